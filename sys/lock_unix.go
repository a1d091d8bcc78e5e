//go:build !windows

package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is created in the locked directory.
const LockFileName = ".cmip6kit.lock"

// ErrLocked is returned when another process holds the archive lock.
var ErrLocked = errors.New("archive is locked by another process")

// AcquireArchiveLock takes an exclusive advisory flock on dir/LockFileName,
// retrying until timeout elapses. The returned function releases the lock.
func AcquireArchiveLock(dir string, timeout time.Duration) (func() error, error) {
	lockPath := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		time.Sleep(25 * time.Millisecond)
	}

	// Record the holder for operators inspecting a stuck lock.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)

	return func() error {
		_ = unix.Flock(fd, unix.LOCK_UN)
		err := f.Close()
		_ = os.Remove(lockPath)
		return err
	}, nil
}
