//go:build linux

package extents

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FIEMAP ioctl interface, from linux/fiemap.h.
const (
	fsIocFiemap = 0xc020660b // _IOWR('f', 11, struct fiemap)

	fiemapFlagSync = 0x1 // Sync the file before mapping

	fiemapExtentLast      = 0x001 // Last extent in the file
	fiemapExtentUnknown   = 0x002 // Data location unknown
	fiemapExtentDelalloc  = 0x004 // Delayed allocation, location not yet decided
	fiemapExtentUnwritten = 0x800 // Preallocated space, reads as zeros

	fiemapMaxOffset = ^uint64(0)
)

// fiemapHeader mirrors struct fiemap (the request/response header).
type fiemapHeader struct {
	start         uint64 // Logical byte offset to start mapping at
	length        uint64 // Logical length to map
	flags         uint32
	mappedExtents uint32 // Filled by the kernel
	extentCount   uint32 // Capacity of the trailing extent array
	reserved      uint32
}

// fiemapExtent mirrors struct fiemap_extent.
type fiemapExtent struct {
	logical    uint64
	physical   uint64
	length     uint64
	reserved64 [2]uint64
	flags      uint32
	reserved   [3]uint32
}

// extentBatch is how many extents one ioctl round-trip requests.
// Files with more extents are mapped in several calls.
const extentBatch = 128

// fiemapArg is the contiguous request buffer: header followed by the
// extent array, exactly as the kernel expects it.
type fiemapArg struct {
	hdr fiemapHeader
	ext [extentBatch]fiemapExtent
}

// FileMap returns the file's physical extent set, coalesced.
//
// Holes produce no extents and are naturally absent. Unwritten
// (preallocated) and delalloc extents are excluded: they hold no settled
// physical data. Extents the kernel flags as shared ARE included - the
// predicate tested downstream is physical-interval equality, not the
// shared bit.
func FileMap(path string) ([]Interval, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var arg fiemapArg
	var out []Interval
	start := uint64(0)

	for {
		arg.hdr = fiemapHeader{
			start:       start,
			length:      fiemapMaxOffset - start,
			flags:       fiemapFlagSync,
			extentCount: extentBatch,
		}

		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIocFiemap, uintptr(unsafe.Pointer(&arg)))
		if errno != 0 {
			return nil, os.NewSyscallError("fiemap "+path, errno)
		}

		n := int(arg.hdr.mappedExtents)
		if n == 0 {
			break
		}

		last := false
		for i := 0; i < n; i++ {
			e := &arg.ext[i]
			if e.flags&fiemapExtentLast != 0 {
				last = true
			}
			if e.flags&(fiemapExtentUnknown|fiemapExtentDelalloc|fiemapExtentUnwritten) != 0 {
				continue
			}
			out = append(out, Interval{Physical: e.physical, Length: e.length})
		}
		if last {
			break
		}

		// Resume after the furthest logical byte mapped so far
		tail := arg.ext[n-1]
		start = tail.logical + tail.length
	}

	return Coalesce(out), nil
}
