package cmip6

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTree creates root/<rel> directories and touches the listed files.
func buildTree(t *testing.T, root string, dirs []string, files []string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	for _, f := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, f)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, f), nil, 0o644))
	}
}

func collect(t *testing.T, root string, level DirLevel, fn func(string, DirLevel, WalkFunc) error) []WalkEntry {
	t.Helper()
	var got []WalkEntry
	require.NoError(t, fn(root, level, func(e WalkEntry) error {
		got = append(got, e)
		return nil
	}))
	return got
}

func TestWalkAtLevel(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive", "CMIP")
	buildTree(t, root, []string{
		"MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn/v1",
		"MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn/v2",
		"NCAR/CESM2/historical/r1i1p1f1/Amon/pr/gn/v1",
	}, []string{
		"MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn/v1/a.nc",
	})

	t.Run("grid level yields only grid directories", func(t *testing.T) {
		got := collect(t, root, LevelGrid, WalkAtLevel)
		require.Len(t, got, 2)
		assert.Equal(t, filepath.Join(root, "MIROC/MIROC6/historical/r1i1p1f1/Amon/tas/gn"), got[0].Dir)
		assert.Equal(t, []string{"v1", "v2"}, got[0].Subdirs)
		assert.Equal(t, int(LevelGrid), got[0].Depth)
		assert.Equal(t, []string{"v1"}, got[1].Subdirs)
	})

	t.Run("never descends below the level", func(t *testing.T) {
		for _, e := range collect(t, root, LevelSource, WalkAtLevel) {
			assert.Equal(t, int(LevelSource), e.Depth)
		}
		for _, e := range collect(t, root, LevelTable, Walk) {
			assert.LessOrEqual(t, e.Depth, int(LevelTable))
		}
	})

	t.Run("unbounded walks everything", func(t *testing.T) {
		got := collect(t, root, LevelUnbounded, WalkAtLevel)
		require.NotEmpty(t, got)
		assert.Equal(t, root, got[0].Dir)
		assert.Equal(t, 0, got[0].Depth)
		var leaf *WalkEntry
		for i := range got {
			if filepath.Base(got[i].Dir) == "v1" && len(got[i].Files) > 0 {
				leaf = &got[i]
			}
		}
		require.NotNil(t, leaf)
		assert.Equal(t, []string{"a.nc"}, leaf.Files)
		assert.Equal(t, int(LevelVersion), leaf.Depth)
	})

	t.Run("walk yields ancestors too", func(t *testing.T) {
		got := collect(t, root, LevelSource, Walk)
		// root, two institutions, two sources
		assert.Len(t, got, 5)
	})

	t.Run("depth is relative to root whatever its length", func(t *testing.T) {
		sub := filepath.Join(root, "MIROC", "MIROC6")
		got := collect(t, sub, LevelExperiment-LevelSource, WalkAtLevel)
		require.Len(t, got, 1)
		assert.Equal(t, "historical", filepath.Base(got[0].Dir))
	})

	t.Run("skip dir prunes in unbounded mode", func(t *testing.T) {
		var dirs []string
		require.NoError(t, WalkAtLevel(root, LevelUnbounded, func(e WalkEntry) error {
			dirs = append(dirs, e.Dir)
			if filepath.Base(e.Dir) == "MIROC" {
				return SkipDir
			}
			return nil
		}))
		for _, d := range dirs {
			assert.NotContains(t, d, "MIROC6")
		}
	})

	t.Run("callback error stops the walk", func(t *testing.T) {
		boom := errors.New("boom")
		err := WalkAtLevel(root, LevelGrid, func(WalkEntry) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestWalkAtLevel_MissingRoot(t *testing.T) {
	err := WalkAtLevel(filepath.Join(t.TempDir(), "CMIP"), LevelGrid, func(WalkEntry) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWalkAtLevel_RelativeRoot(t *testing.T) {
	dir := t.TempDir()
	buildTree(t, dir, []string{"a/b/c"}, nil)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	got := collect(t, ".", 1, WalkAtLevel)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Dir)
	assert.Equal(t, 1, got[0].Depth)

	got = collect(t, "./a/", 1, WalkAtLevel)
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join("a", "b"), got[0].Dir)

	got = collect(t, ".", LevelUnbounded, WalkAtLevel)
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, i, e.Depth, e.Dir)
	}
}

func TestWalkAtLevel_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "CMIP")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err := WalkAtLevel(file, LevelGrid, func(WalkEntry) error { return nil })
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestWalkAtLevel_UnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any directory")
	}
	root := filepath.Join(t.TempDir(), "CMIP")
	locked := filepath.Join(root, "MIROC")
	require.NoError(t, os.MkdirAll(filepath.Join(locked, "MIROC6"), 0o755))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	err := WalkAtLevel(root, LevelSource, func(WalkEntry) error { return nil })
	assert.ErrorIs(t, err, os.ErrPermission)
}
