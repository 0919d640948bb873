package pairer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/ivoronin/cowdup/internal/extents"
	"github.com/ivoronin/cowdup/internal/testfs"
	"github.com/ivoronin/cowdup/internal/types"
)

// fakeMapper returns a MapFunc serving canned extent sets per path.
// Paths absent from the table produce an error, like a failing ioctl.
func fakeMapper(table map[string][]extents.Interval) MapFunc {
	return func(path string) ([]extents.Interval, error) {
		ext, ok := table[path]
		if !ok {
			return nil, fmt.Errorf("no extent map for %s", path)
		}
		return extents.Coalesce(ext), nil
	}
}

// distinctExtents fabricates a unique physical interval per index.
func distinctExtents(i int) []extents.Interval {
	return []extents.Interval{{Physical: uint64(i+1) << 20, Length: 4096}}
}

// set builds a DuplicateSets holding one set of the given files.
func set(files ...*types.FileInfo) types.DuplicateSets {
	return types.NewDuplicateSets([]types.DuplicateSet{types.NewDuplicateSet(files)})
}

// runPairer runs a Pairer over sets with the given mapper and decodes
// the emitted stream.
func runPairer(t *testing.T, sets types.DuplicateSets, mapFile MapFunc, errCh chan error) []testfs.Pair {
	t.Helper()

	var out bytes.Buffer
	if err := New(sets, &out, mapFile, false, false, errCh).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pairs, err := testfs.ParsePairs(out.Bytes())
	if err != nil {
		t.Fatalf("ParsePairs: %v", err)
	}
	return pairs
}

// =============================================================================
// Section 6.3: Pair Emission Tests
// =============================================================================

// TestPairerEmitsUnsharedPair tests the basic candidate case.
func TestPairerEmitsUnsharedPair(t *testing.T) {
	a := &types.FileInfo{Path: "/t/a", Size: 5}
	b := &types.FileInfo{Path: "/t/b", Size: 5}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": distinctExtents(0),
		"/t/b": distinctExtents(1),
	})

	pairs := runPairer(t, set(a, b), mapper, nil)

	testfs.AssertPairSet(t, []testfs.Pair{{"/t/a", "/t/b"}}, pairs)
}

// TestPairerRefusesSharedPair tests that fully reflinked files are not
// emitted.
func TestPairerRefusesSharedPair(t *testing.T) {
	shared := []extents.Interval{{Physical: 1 << 20, Length: 4096}}
	a := &types.FileInfo{Path: "/t/a", Size: 5}
	b := &types.FileInfo{Path: "/t/b", Size: 5}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": shared,
		"/t/b": shared,
	})

	pairs := runPairer(t, set(a, b), mapper, nil)

	if len(pairs) != 0 {
		t.Errorf("expected no pairs, got %v", pairs)
	}
}

// TestPairerSharedDifferentSplit tests that the kernel reporting the
// same physical bytes with different extent boundaries still counts as
// fully shared.
func TestPairerSharedDifferentSplit(t *testing.T) {
	a := &types.FileInfo{Path: "/t/a", Size: 5}
	b := &types.FileInfo{Path: "/t/b", Size: 5}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": {{Physical: 0, Length: 8192}},
		"/t/b": {{Physical: 0, Length: 4096}, {Physical: 4096, Length: 4096}},
	})

	pairs := runPairer(t, set(a, b), mapper, nil)

	if len(pairs) != 0 {
		t.Errorf("expected no pairs, got %v", pairs)
	}
}

// TestPairerAllCombinations tests that a set of three distinct-extent
// files emits exactly three unordered pairs.
func TestPairerAllCombinations(t *testing.T) {
	a := &types.FileInfo{Path: "/t/a", Size: 3}
	b := &types.FileInfo{Path: "/t/b", Size: 3}
	c := &types.FileInfo{Path: "/t/c", Size: 3}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": distinctExtents(0),
		"/t/b": distinctExtents(1),
		"/t/c": distinctExtents(2),
	})

	pairs := runPairer(t, set(a, b, c), mapper, nil)

	testfs.AssertPairSet(t, []testfs.Pair{
		{"/t/a", "/t/b"},
		{"/t/a", "/t/c"},
		{"/t/b", "/t/c"},
	}, pairs)
}

// TestPairerPartiallySharedSet tests a set where two members share and
// one stands alone: only the pairs touching the outsider are emitted.
func TestPairerPartiallySharedSet(t *testing.T) {
	shared := []extents.Interval{{Physical: 1 << 20, Length: 4096}}
	a := &types.FileInfo{Path: "/t/a", Size: 3}
	b := &types.FileInfo{Path: "/t/b", Size: 3}
	c := &types.FileInfo{Path: "/t/c", Size: 3}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": shared,
		"/t/b": shared,
		"/t/c": distinctExtents(5),
	})

	pairs := runPairer(t, set(a, b, c), mapper, nil)

	testfs.AssertPairSet(t, []testfs.Pair{
		{"/t/a", "/t/c"},
		{"/t/b", "/t/c"},
	}, pairs)
}

// =============================================================================
// Section 6.4: Pairer Failure Modes and Framing
// =============================================================================

// TestPairerOmitsFailedMember tests that a member whose extent map fails
// is dropped while the survivors are still paired.
func TestPairerOmitsFailedMember(t *testing.T) {
	a := &types.FileInfo{Path: "/t/a", Size: 3}
	b := &types.FileInfo{Path: "/t/b", Size: 3}
	broken := &types.FileInfo{Path: "/t/broken", Size: 3}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": distinctExtents(0),
		"/t/b": distinctExtents(1),
		// "/t/broken" deliberately absent
	})

	errCh := make(chan error, 10)
	pairs := runPairer(t, set(a, b, broken), mapper, errCh)
	close(errCh)

	testfs.AssertPairSet(t, []testfs.Pair{{"/t/a", "/t/b"}}, pairs)
	if len(errCh) != 1 {
		t.Errorf("expected 1 error, got %d", len(errCh))
	}
}

// TestPairerFraming tests the exact byte-level NUL framing of the stream.
func TestPairerFraming(t *testing.T) {
	a := &types.FileInfo{Path: "/t/a", Size: 1}
	b := &types.FileInfo{Path: "/t/b", Size: 1}
	mapper := fakeMapper(map[string][]extents.Interval{
		"/t/a": distinctExtents(0),
		"/t/b": distinctExtents(1),
	})

	var out bytes.Buffer
	if err := New(set(a, b), &out, mapper, false, false, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "/t/a\x00/t/b\x00"
	if out.String() != want {
		t.Errorf("stream = %q, want %q", out.String(), want)
	}
}

// TestPairerEmptySets tests that no sets produce an empty stream.
func TestPairerEmptySets(t *testing.T) {
	var out bytes.Buffer
	err := New(types.NewDuplicateSets(nil), &out, fakeMapper(nil), false, false, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected empty stream, got %q", out.String())
	}
}
