// Package extents reads and compares physical extent maps.
//
// An extent map is the kernel's answer to "which on-disk byte ranges back
// this file". Two byte-identical files whose coalesced extent sets are
// equal are already fully reflinked with respect to each other; any
// asymmetry makes them a reflinking candidate.
package extents

import (
	"errors"
	"slices"
)

// ErrUnsupported is returned by FileMap on platforms without an
// extent-map interface. Callers treat it like any per-file failure:
// log and skip.
var ErrUnsupported = errors.New("extent maps not supported on this platform")

// Interval is one contiguous physical byte range backing file data.
type Interval struct {
	Physical uint64 // On-disk byte offset
	Length   uint64 // Run length in bytes
}

// Coalesce sorts intervals by physical offset and merges adjacent or
// overlapping runs. The kernel may split a contiguous physical run at
// arbitrary logical boundaries, so raw extent lists of two fully-shared
// files can differ; only the coalesced form is comparable.
// Zero-length intervals are dropped. The input is not modified.
func Coalesce(intervals []Interval) []Interval {
	merged := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Length > 0 {
			merged = append(merged, iv)
		}
	}
	slices.SortFunc(merged, func(a, b Interval) int {
		switch {
		case a.Physical < b.Physical:
			return -1
		case a.Physical > b.Physical:
			return 1
		default:
			return 0
		}
	})

	out := merged[:0]
	for _, iv := range merged {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if iv.Physical <= last.Physical+last.Length {
				// Adjacent or overlapping: extend the current run
				end := iv.Physical + iv.Length
				if end > last.Physical+last.Length {
					last.Length = end - last.Physical
				}
				continue
			}
		}
		out = append(out, iv)
	}
	return out
}

// Equal reports whether two coalesced interval sequences describe exactly
// the same physical bytes. This is the "fully reflinked" predicate: every
// physical byte of a appears in b and vice versa.
//
// Both arguments must already be coalesced.
func Equal(a, b []Interval) bool {
	return slices.Equal(a, b)
}
