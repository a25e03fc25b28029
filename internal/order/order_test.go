package order

import (
	"sort"
	"testing"
	"time"
)

func TestNextAppendsFromZero(t *testing.T) {
	// N creates into an empty container yield positions 0..N-1.
	positions := []int{}
	max, found := 0, false
	for i := 0; i < 5; i++ {
		next := Next(max, found)
		positions = append(positions, next)
		max, found = next, true
	}
	for i, p := range positions {
		if p != i {
			t.Fatalf("create %d got position %d", i, p)
		}
	}
}

func TestNextToleratesGaps(t *testing.T) {
	// After deletes the max may be sparse; append still goes after it.
	if got := Next(7, true); got != 8 {
		t.Fatalf("Next(7) = %d, want 8", got)
	}
}

func TestRenumberIsIdempotent(t *testing.T) {
	ids := []string{"c", "a", "b"}

	first := Renumber(ids)
	second := Renumber(ids)

	if len(first) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("renumber not idempotent at %d: %+v vs %+v", i, first[i], second[i])
		}
		if first[i].ID != ids[i] || first[i].Position != i {
			t.Fatalf("placement %d = %+v", i, first[i])
		}
	}
}

func TestCompareTieBreak(t *testing.T) {
	older := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	tests := []struct {
		name string
		a, b Key
		want int
	}{
		{"position wins", Key{Position: 0, ID: "z"}, Key{Position: 1, ID: "a"}, -1},
		{"created breaks position tie", Key{Position: 2, CreatedAt: older, ID: "z"}, Key{Position: 2, CreatedAt: newer, ID: "a"}, -1},
		{"id breaks full tie", Key{Position: 2, CreatedAt: older, ID: "a"}, Key{Position: 2, CreatedAt: older, ID: "b"}, -1},
		{"equal", Key{Position: 2, CreatedAt: older, ID: "a"}, Key{Position: 2, CreatedAt: older, ID: "a"}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compare(tc.a, tc.b)
			if got != tc.want {
				t.Fatalf("Compare = %d, want %d", got, tc.want)
			}
			if tc.want != 0 && Compare(tc.b, tc.a) != -tc.want {
				t.Fatal("Compare not antisymmetric")
			}
		})
	}
}

func TestSortIsDeterministicUnderDuplicatePositions(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// Two items racing to position 1, plus normal neighbors.
	keys := []Key{
		{Position: 1, CreatedAt: base.Add(2 * time.Second), ID: "task-d"},
		{Position: 0, CreatedAt: base, ID: "task-a"},
		{Position: 1, CreatedAt: base.Add(time.Second), ID: "task-c"},
		{Position: 2, CreatedAt: base, ID: "task-b"},
	}

	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	want := []string{"task-a", "task-c", "task-d", "task-b"}
	for i, k := range sorted {
		if k.ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, k.ID, want[i])
		}
	}
}
