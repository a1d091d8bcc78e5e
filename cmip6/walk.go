package cmip6

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SkipDir may be returned by a WalkFunc to stop descending into the
// directory that was just yielded.
var SkipDir = fs.SkipDir

// WalkEntry is one visited directory with its immediate children.
type WalkEntry struct {
	Dir     string
	Depth   int
	Subdirs []string
	Files   []string
}

// WalkFunc receives each yielded directory. Returning an error other than
// SkipDir stops the walk and is returned from it.
type WalkFunc func(WalkEntry) error

// ErrNotDirectory is returned when a walk root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// WalkAtLevel visits the tree under root depth first and yields only the
// directories whose depth below root equals level, without descending
// below them. With LevelUnbounded every directory is yielded, root first.
// Depth counts directories descended from root, which is 0.
//
// root must be an existing directory. It is not required to be an
// activity directory; callers walking an archive run ValidateRoot first.
func WalkAtLevel(root string, level DirLevel, fn WalkFunc) error {
	return walk(root, level, fn, level == LevelUnbounded)
}

// Walk yields every directory from root down to level inclusive and does
// not descend below level. LevelUnbounded walks the full subtree.
func Walk(root string, level DirLevel, fn WalkFunc) error {
	return walk(root, level, fn, true)
}

func walk(root string, level DirLevel, fn WalkFunc, yieldAll bool) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("walk %s: %w", root, ErrNotDirectory)
	}
	err = visit(root, 0, level, fn, yieldAll)
	if errors.Is(err, SkipDir) {
		return nil
	}
	return err
}

func visit(dir string, depth int, level DirLevel, fn WalkFunc, yieldAll bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}
	entry := WalkEntry{Dir: dir, Depth: depth}
	for _, e := range entries {
		if isDir(dir, e) {
			entry.Subdirs = append(entry.Subdirs, e.Name())
		} else {
			entry.Files = append(entry.Files, e.Name())
		}
	}

	atCutoff := level != LevelUnbounded && entry.Depth >= int(level)
	if yieldAll || atCutoff {
		if err := fn(entry); err != nil {
			if errors.Is(err, SkipDir) {
				return nil
			}
			return err
		}
	}
	if atCutoff {
		return nil
	}
	for _, sub := range entry.Subdirs {
		if err := visit(filepath.Join(dir, sub), depth+1, level, fn, yieldAll); err != nil {
			return err
		}
	}
	return nil
}

// isDir follows symlinks so that linked dataset directories are walked
// like real ones.
func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}
