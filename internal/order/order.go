// Package order computes integer ordering positions for lists within a board
// and tasks within a list.
package order

import "time"

// Next returns the position for an item appended to a container. found is
// false when the container has no items yet. Concurrent appends may race to
// the same value; sibling order stays stable through the Compare tie-break
// until the next bulk renumber makes positions contiguous again.
func Next(maxPosition int, found bool) int {
	if !found {
		return 0
	}
	return maxPosition + 1
}

// Placement pairs an entity id with its assigned position.
type Placement struct {
	ID       string
	Position int
}

// Renumber assigns position = array index for each id, in the given final
// order. This is the canonical way stored order becomes exactly contiguous.
func Renumber(ids []string) []Placement {
	placements := make([]Placement, len(ids))
	for i, id := range ids {
		placements[i] = Placement{ID: id, Position: i}
	}
	return placements
}

// Key is the sort key of a sibling: position first, then creation time, then
// id. The tie-break must be identical on the server query and the client
// merge so order never flips between reloads.
type Key struct {
	Position  int
	CreatedAt time.Time
	ID        string
}

// Compare orders two sibling keys. Negative means a sorts before b.
func Compare(a, b Key) int {
	if a.Position != b.Position {
		if a.Position < b.Position {
			return -1
		}
		return 1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper over Compare for sort.Slice callers.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}
