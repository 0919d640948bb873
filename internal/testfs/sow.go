package testfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// -----------------------------------------------------------------------------
// Sow Operations - Create filesystem from spec
// -----------------------------------------------------------------------------

// SowFileTree creates a directory tree from a FileTree specification.
// Each volume's MountPoint becomes a subdirectory under root; parent
// directories are created on demand from the paths themselves.
func SowFileTree(root string, spec FileTree) error {
	for _, vol := range spec.Volumes {
		if err := sowVolume(filepath.Join(root, vol.MountPoint), vol); err != nil {
			return fmt.Errorf("sow volume %s: %w", vol.MountPoint, err)
		}
	}
	return nil
}

// sowVolume materializes one volume: for every File, Path[0] gets real
// content and Path[1:] become hardlinks to it; symlinks are created last
// so they may point at anything the volume just grew.
func sowVolume(volPath string, vol Volume) error {
	if err := os.MkdirAll(volPath, 0o755); err != nil {
		return fmt.Errorf("create volume dir: %w", err)
	}

	for _, f := range vol.Files {
		if len(f.Path) == 0 {
			continue
		}

		first := filepath.Join(volPath, f.Path[0])
		if err := materialize(first, f.Chunks); err != nil {
			return fmt.Errorf("create %s: %w", first, err)
		}

		for _, p := range f.Path[1:] {
			link := filepath.Join(volPath, p)
			if err := ensureParent(link); err != nil {
				return err
			}
			if err := os.Link(first, link); err != nil {
				return fmt.Errorf("hardlink %s -> %s: %w", link, first, err)
			}
		}
	}

	for _, sym := range vol.Symlinks {
		link := filepath.Join(volPath, sym.Path)
		if err := ensureParent(link); err != nil {
			return err
		}
		if err := os.Symlink(sym.Target, link); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", link, sym.Target, err)
		}
	}

	return nil
}

// materialize writes a file whose content is the concatenation of the
// chunk specs. No chunks means an empty file, which the pipeline's
// minimum-size filter must be able to see and refuse.
func materialize(path string, chunks []Chunk) (err error) {
	if err := ensureParent(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, c := range chunks {
		size, err := humanize.ParseBytes(c.Size)
		if err != nil {
			return fmt.Errorf("parse chunk size %q: %w", c.Size, err)
		}
		if err := fill(f, byte(c.Pattern), int64(size)); err != nil {
			return err
		}
	}
	return nil
}

// fill streams size bytes of one pattern through a bounded buffer, so a
// "1GiB" chunk spec never materializes in memory.
func fill(f *os.File, pattern byte, size int64) error {
	const maxBuf = 1 << 20

	bufSize := size
	if bufSize > maxBuf {
		bufSize = maxBuf
	}
	buf := bytes.Repeat([]byte{pattern}, int(bufSize))

	for size > 0 {
		n := int64(len(buf))
		if size < n {
			n = size
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return err
		}
		size -= n
	}
	return nil
}

// ensureParent creates the directory chain above path (mkdir -p
// semantics), letting specs nest entries arbitrarily deep.
func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
