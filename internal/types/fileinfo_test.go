package types

import (
	"testing"
)

// =============================================================================
// Section 1.1: Sorted Collection Tests
// =============================================================================

// TestSortedOrdersAtConstruction tests that items are sorted by key.
func TestSortedOrdersAtConstruction(t *testing.T) {
	s := NewSorted([]int{3, 1, 2}, func(i int) int { return i })

	items := s.Items()
	want := []int{1, 2, 3}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i], v)
		}
	}
}

// TestSortedDoesNotMutateInput tests that the input slice stays untouched.
func TestSortedDoesNotMutateInput(t *testing.T) {
	input := []int{3, 1, 2}
	_ = NewSorted(input, func(i int) int { return i })

	if input[0] != 3 || input[1] != 1 || input[2] != 2 {
		t.Errorf("input mutated: %v", input)
	}
}

// TestSortedFirst tests First on populated and empty collections.
func TestSortedFirst(t *testing.T) {
	s := NewSorted([]int{5, 2}, func(i int) int { return i })
	if got := s.First(); got != 2 {
		t.Errorf("First() = %d, want 2", got)
	}

	empty := NewSorted(nil, func(i int) int { return i })
	if got := empty.First(); got != 0 {
		t.Errorf("First() on empty = %d, want zero value", got)
	}
}

// =============================================================================
// Section 1.2: Group Constructor Tests
// =============================================================================

// TestCandidateGroupSortedByPath tests deterministic iteration order.
func TestCandidateGroupSortedByPath(t *testing.T) {
	group := NewCandidateGroup([]*FileInfo{
		{Path: "/c", Size: 10},
		{Path: "/a", Size: 10},
		{Path: "/b", Size: 10},
	})

	items := group.Items()
	want := []string{"/a", "/b", "/c"}
	for i, p := range want {
		if items[i].Path != p {
			t.Errorf("items[%d].Path = %q, want %q", i, items[i].Path, p)
		}
	}
}

// TestDuplicateSetsSortedByFirstPath tests ordering across sets.
func TestDuplicateSetsSortedByFirstPath(t *testing.T) {
	setB := NewDuplicateSet([]*FileInfo{{Path: "/b1"}, {Path: "/b2"}})
	setA := NewDuplicateSet([]*FileInfo{{Path: "/a2"}, {Path: "/a1"}})

	sets := NewDuplicateSets([]DuplicateSet{setB, setA})

	if sets.First().First().Path != "/a1" {
		t.Errorf("first set starts at %q, want /a1", sets.First().First().Path)
	}
}

// =============================================================================
// Section 1.3: Semaphore Tests
// =============================================================================

// TestSemaphoreLimitsConcurrency tests that at most n slots are claimable
// without blocking.
func TestSemaphoreLimitsConcurrency(t *testing.T) {
	sem := NewSemaphore(2)
	sem.Acquire()
	sem.Acquire()

	acquired := make(chan struct{})
	go func() {
		sem.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire should have blocked")
	default:
	}

	sem.Release()
	<-acquired
}
