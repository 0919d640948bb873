package testfs

import (
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides pipeline test infrastructure using t.TempDir().
//
// All "volumes" are directories on the same filesystem; cross-device
// behavior (silent skipping of foreign mounts) needs a real second
// filesystem and is not covered here.
//
// Usage:
//
//	h := testfs.New(t, given)
//	files, err := scanner.New(h.Root(), 1, nil, 2, false, nil).Run()
//	// ... run pipeline, capture pair stream
type Harness struct {
	t     *testing.T
	root  string   // Temporary directory root
	given FileTree // Original spec
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Creates a temporary directory via t.TempDir()
//  2. Creates subdirectories for each Volume's MountPoint
//  3. Creates files, hardlinks, and symlinks according to the spec
//
// The temporary directory is automatically cleaned up by t.TempDir() mechanics.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:     t,
		root:  root,
		given: given,
	}

	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Path resolves a volume-relative path to its absolute location.
func (h *Harness) Path(mountPoint, rel string) string {
	return filepath.Join(h.root, mountPoint, rel)
}
