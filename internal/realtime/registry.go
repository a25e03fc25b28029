// Package realtime tracks which connections watch which board and fans
// domain events out to them.
package realtime

import "sync"

// BoardRoom is the room key for a board's live-update channel.
func BoardRoom(boardID string) string {
	return "board:" + boardID
}

// UserRoom is the per-user direct channel every authenticated connection
// joins, used for user-targeted notifications.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Registry maps room keys to the set of connection ids currently joined.
// It is in-memory, process-local and advisory for fan-out only: losing it
// (process restart) is fine because clients re-join rooms on reconnect.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to the room, creating the room if absent. Idempotent.
func (r *Registry) Join(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes connID from the room; empty rooms are deleted so the
// registry never grows without bound.
func (r *Registry) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// DropConnection removes connID from every room it joined. A connection can
// sit in several board rooms at once (multiple open tabs), so cleanup scans
// all rooms, not just the current one.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Members returns a snapshot of the connection ids in a room.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether connID is joined to the room.
func (r *Registry) Contains(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// RoomCount reports how many rooms currently have members.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
