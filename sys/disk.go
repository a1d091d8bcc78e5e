package sys

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskUsage is swappable for tests.
var diskUsage = disk.Usage

// FreeBytes reports the free space of the filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	du, err := diskUsage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	return du.Free, nil
}

// InsufficientSpaceError is returned by EnsureFreeSpace.
type InsufficientSpaceError struct {
	Path      string
	Need      uint64
	Available uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough free space on %s: need %d bytes, %d available", e.Path, e.Need, e.Available)
}

// EnsureFreeSpace fails when the filesystem holding path has less than need
// bytes free.
func EnsureFreeSpace(path string, need uint64) error {
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < need {
		return &InsufficientSpaceError{Path: path, Need: need, Available: free}
	}
	return nil
}
