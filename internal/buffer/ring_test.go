package buffer

import (
	"reflect"
	"testing"
)

func TestRingEvictsOldest(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}
	if got := ring.List(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("expected newest three, got %v", got)
	}
	if ring.Len() != 3 || ring.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", ring.Len(), ring.Cap())
	}
}

func TestRingLast(t *testing.T) {
	ring := NewRing[string](4)
	for _, value := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(value)
	}
	if got := ring.Last(2); !reflect.DeepEqual(got, []string{"d", "e"}) {
		t.Fatalf("expected tail d,e, got %v", got)
	}
	if got := ring.Last(10); !reflect.DeepEqual(got, []string{"b", "c", "d", "e"}) {
		t.Fatalf("expected whole ring, got %v", got)
	}
	if got := ring.Last(0); got != nil {
		t.Fatalf("expected nil for zero, got %v", got)
	}
}

func TestNilRingIsSafe(t *testing.T) {
	var ring *Ring[int]
	ring.Add(1)
	if ring.Len() != 0 || ring.List() != nil {
		t.Fatal("expected nil ring to be empty")
	}
}
