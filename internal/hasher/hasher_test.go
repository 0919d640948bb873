//go:build unix

package hasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ivoronin/cowdup/internal/types"
)

// sow creates a file and returns its FileInfo.
func sow(t *testing.T, dir, name, content string) *types.FileInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return &types.FileInfo{Path: path, Size: int64(len(content))}
}

// candidates wraps same-size files into CandidateGroups for the hasher.
func candidates(files ...*types.FileInfo) types.CandidateGroups {
	bySize := make(map[int64][]*types.FileInfo)
	for _, f := range files {
		bySize[f.Size] = append(bySize[f.Size], f)
	}
	var groups []types.CandidateGroup
	for _, fs := range bySize {
		groups = append(groups, types.NewCandidateGroup(fs))
	}
	return types.NewCandidateGroups(groups)
}

// =============================================================================
// Section 4.1: Core Hasher Tests
// =============================================================================

// TestHasherGroupsIdenticalContent tests that identical files share a group.
func TestHasherGroupsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := sow(t, dir, "a", "hello")
	b := sow(t, dir, "b", "hello")

	groups := New(candidates(a, b), 2, false, nil).Run(context.Background())

	if groups.Len() != 1 {
		t.Fatalf("expected 1 hash group, got %d", groups.Len())
	}
	if groups.First().Len() != 2 {
		t.Errorf("expected 2 members, got %d", groups.First().Len())
	}
	if a.Digest == 0 || a.Digest != b.Digest {
		t.Errorf("digests differ or unset: %x vs %x", a.Digest, b.Digest)
	}
}

// TestHasherSplitsSameSizeDifferentContent tests that equal-size files
// with different bytes land in different digests and are discarded as
// singletons.
func TestHasherSplitsSameSizeDifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := sow(t, dir, "a", "hello")
	b := sow(t, dir, "b", "world")

	groups := New(candidates(a, b), 2, false, nil).Run(context.Background())

	if groups.Len() != 0 {
		t.Errorf("expected 0 hash groups, got %d", groups.Len())
	}
}

// TestHasherMixedGroups tests a tree with both outcomes at once.
func TestHasherMixedGroups(t *testing.T) {
	dir := t.TempDir()
	a1 := sow(t, dir, "a1", "same-bytes")
	a2 := sow(t, dir, "a2", "same-bytes")
	a3 := sow(t, dir, "a3", "same-bytes")
	b := sow(t, dir, "b", "diff-bytes")

	groups := New(candidates(a1, a2, a3, b), 4, false, nil).Run(context.Background())

	if groups.Len() != 1 {
		t.Fatalf("expected 1 hash group, got %d", groups.Len())
	}
	if groups.First().Len() != 3 {
		t.Errorf("expected 3 members, got %d", groups.First().Len())
	}
}

// TestHasherEmptyInput tests behavior with no candidate groups.
func TestHasherEmptyInput(t *testing.T) {
	groups := New(types.NewCandidateGroups(nil), 2, false, nil).Run(context.Background())

	if groups.Len() != 0 {
		t.Errorf("expected 0 groups, got %d", groups.Len())
	}
}

// =============================================================================
// Section 4.2: Hasher Failure Modes
// =============================================================================

// TestHasherDropsUnreadableFile tests that a failing file is reported and
// excluded while its partners continue.
func TestHasherDropsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	a := sow(t, dir, "a", "hello")
	b := sow(t, dir, "b", "hello")
	ghost := &types.FileInfo{Path: filepath.Join(dir, "missing"), Size: 5}

	errCh := make(chan error, 10)
	groups := New(candidates(a, b, ghost), 2, false, errCh).Run(context.Background())
	close(errCh)

	if groups.Len() != 1 {
		t.Fatalf("expected 1 hash group, got %d", groups.Len())
	}
	if groups.First().Len() != 2 {
		t.Errorf("expected 2 members, got %d", groups.First().Len())
	}
	if len(errCh) != 1 {
		t.Errorf("expected 1 error, got %d", len(errCh))
	}
}

// TestHasherCancelledContext tests that cancellation stops hashing and
// produces no groups rather than partial ones.
func TestHasherCancelledContext(t *testing.T) {
	dir := t.TempDir()
	a := sow(t, dir, "a", "hello")
	b := sow(t, dir, "b", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	groups := New(candidates(a, b), 2, false, nil).Run(ctx)

	if groups.Len() != 0 {
		t.Errorf("expected 0 groups after cancellation, got %d", groups.Len())
	}
}
