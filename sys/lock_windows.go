//go:build windows

package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const LockFileName = ".cmip6kit.lock"

var ErrLocked = errors.New("archive is locked by another process")

// AcquireArchiveLock uses exclusive creation of the lock file on Windows.
func AcquireArchiveLock(dir string, timeout time.Duration) (func() error, error) {
	lockPath := filepath.Join(dir, LockFileName)
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return func() error {
				err := f.Close()
				_ = os.Remove(lockPath)
				return err
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
