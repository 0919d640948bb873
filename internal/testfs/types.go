// Package testfs provides test infrastructure for pipeline tests.
//
// It builds directory trees from a declarative FileTree specification in
// t.TempDir() and decodes the tool's NUL-delimited pair stream back into
// assertable pair sets.
//
// # FileTree Specification
//
// Tests describe the tree once and refer to files by their relative
// paths afterwards:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {
//	            MountPoint: "data",
//	            Files: []File{
//	                {Path: []string{"a.txt", "backup/a.txt"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	    },
//	}
//	h := testfs.New(t, given)
//
// Subdirectories are created automatically from file paths (mkdir -p
// semantics). A File with multiple paths creates one regular file plus
// hardlinks; same chunks mean same content and therefore duplicates.
//
// # Pair Assertions
//
// Emitted pairs carry no ordering contract - neither across pairs nor
// within one - so assertions always compare normalized sets:
//
//	pairs, err := testfs.ParsePairs(out.Bytes())
//	testfs.AssertPairSet(t, want, pairs)
package testfs

import "github.com/dustin/go-humanize"

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a filesystem state to create.
type FileTree struct {
	// Volumes in the filesystem (each a subdirectory of the harness root).
	Volumes []Volume `json:"volumes"`
}

// Volume represents one subtree under the harness root.
type Volume struct {
	// MountPoint is the volume's path relative to the harness root.
	MountPoint string `json:"mountPoint"`

	// Files in this volume (regular files, possibly hardlinked).
	Files []File `json:"files,omitempty"`

	// Symlinks in this volume.
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file, possibly with hardlinks.
//
// Path[0] is created with content from the Chunks specification;
// Path[1:] are hardlinked to Path[0].
//
// Content is specified via Chunks - each chunk fills a region with its
// pattern byte. Same chunks = same content = duplicates detected.
type File struct {
	// Path contains one or more paths (relative to the volume).
	// Multiple paths indicate hardlinks sharing the same inode.
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	// Use IEC units for sizes: "1KiB", "1MiB", "1GiB".
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	Pattern rune `json:"pattern"`

	// Size in IEC units (1024-based): "1KiB", "1MiB", "1GiB".
	Size string `json:"size"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink defines a symbolic link.
type Symlink struct {
	// Path is relative to the volume mount point.
	Path string `json:"path"`

	// Target is the path the symlink points to.
	Target string `json:"target"`
}
