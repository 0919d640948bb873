// Package types provides shared types used across the cowdup codebase.
package types

import (
	"cmp"
	"slices"
)

// FileInfo holds metadata for a scanned file.
// Digest is zero until the hashing stage populates it.
type FileInfo struct {
	Path   string
	Size   int64
	Digest uint64
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// CandidateGroup contains files sharing the same size (potential duplicates).
// Files are always sorted by Path for deterministic iteration.
type CandidateGroup = Sorted[*FileInfo, string]

// NewCandidateGroup creates a CandidateGroup sorted by file path.
func NewCandidateGroup(files []*FileInfo) CandidateGroup {
	return NewSorted(files, func(f *FileInfo) string { return f.Path })
}

// CandidateGroups is a sorted collection of candidate groups.
type CandidateGroups = Sorted[CandidateGroup, string]

// NewCandidateGroups creates sorted CandidateGroups.
func NewCandidateGroups(groups []CandidateGroup) CandidateGroups {
	return NewSorted(groups, func(cg CandidateGroup) string { return cg.First().Path })
}

// HashGroup contains files sharing the same (size, digest) pair.
// Sorted by file path.
type HashGroup = Sorted[*FileInfo, string]

// NewHashGroup creates a HashGroup sorted by file path.
func NewHashGroup(files []*FileInfo) HashGroup {
	return NewSorted(files, func(f *FileInfo) string { return f.Path })
}

// HashGroups is a sorted collection of hash groups.
type HashGroups = Sorted[HashGroup, string]

// NewHashGroups creates sorted HashGroups.
func NewHashGroups(groups []HashGroup) HashGroups {
	return NewSorted(groups, func(hg HashGroup) string { return hg.First().Path })
}

// DuplicateSet contains files with pairwise byte-identical contents.
// Sorted by file path.
type DuplicateSet = Sorted[*FileInfo, string]

// NewDuplicateSet creates a DuplicateSet sorted by file path.
func NewDuplicateSet(files []*FileInfo) DuplicateSet {
	return NewSorted(files, func(f *FileInfo) string { return f.Path })
}

// DuplicateSets is a sorted collection of duplicate sets.
type DuplicateSets = Sorted[DuplicateSet, string]

// NewDuplicateSets creates sorted DuplicateSets.
func NewDuplicateSets(sets []DuplicateSet) DuplicateSets {
	return NewSorted(sets, func(ds DuplicateSet) string { return ds.First().Path })
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
