// Package sys wraps the filesystem operations the archive tools depend on:
// relocating files and directories across devices, atomic writes, an
// advisory archive lock and free-space probing.
package sys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Swappable for tests that need to force the cross-device path.
var rename = os.Rename

const (
	renameRetries    = 5
	renameRetryDelay = 100 * time.Millisecond
)

// RenameWithRetry renames from to to, retrying transient failures. A
// cross-device error is returned immediately since retrying cannot help.
func RenameWithRetry(from, to string) error {
	var err error
	for i := 0; i < renameRetries; i++ {
		if err = rename(from, to); err == nil {
			return nil
		}
		if isCrossDevice(err) || errors.Is(err, fs.ErrNotExist) {
			return err
		}
		time.Sleep(renameRetryDelay)
	}
	return fmt.Errorf("rename %s to %s failed after %d attempts: %w", from, to, renameRetries, err)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// Move relocates a file or directory tree. Parents of dst are created. When
// src and dst live on different filesystems the tree is copied, synced and
// the source removed.
func Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: destination %s already exists", src, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory for %s: %w", dst, err)
	}
	err := RenameWithRetry(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	if info.IsDir() {
		err = CopyDirectoryContents(src, dst)
	} else {
		err = CopyFile(src, dst)
	}
	if err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("move %s to %s across devices: %w", src, dst, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("move %s: copied but failed to remove source: %w", src, err)
	}
	return nil
}

// CopyFile copies src to dst, preserving the permission bits, and syncs dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy data from %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync destination file %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}
	return nil
}

// CopyDirectoryContents copies the tree under src into dst.
func CopyDirectoryContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read source directory %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", dst, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := CopyDirectoryContents(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := CopyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWithRetry removes a file, treating "does not exist" as success.
func RemoveWithRetry(path string) error {
	var err error
	for i := 0; i < renameRetries; i++ {
		err = os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		time.Sleep(renameRetryDelay)
	}
	return fmt.Errorf("failed to remove %s after %d attempts: %w", path, renameRetries, err)
}

// RemoveEmptyParents removes dir and then each parent up to (not including)
// stop, as long as they are empty.
func RemoveEmptyParents(dir, stop string) error {
	dir, stop = filepath.Clean(dir), filepath.Clean(stop)
	for dir != stop && len(dir) > len(stop) {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			dir = filepath.Dir(dir)
			continue
		}
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
