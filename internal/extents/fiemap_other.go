//go:build !linux

package extents

// FileMap is unavailable without the FIEMAP ioctl. Callers log and skip
// the file, trading completeness for safety.
func FileMap(path string) ([]Interval, error) {
	return nil, ErrUnsupported
}
