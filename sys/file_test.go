package sys

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forceCrossDevice(t *testing.T) {
	t.Helper()
	orig := rename
	rename = func(from, to string) error {
		return &os.LinkError{Op: "rename", Old: from, New: to, Err: syscall.EXDEV}
	}
	t.Cleanup(func() { rename = orig })
}

func TestMove_File(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.nc")
	dst := filepath.Join(dir, "nested", "b.nc")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))

	require.NoError(t, Move(src, dst))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestMove_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("2"), 0o644))
	assert.Error(t, Move(src, dst))
	assert.FileExists(t, src)
}

func TestMove_CrossDeviceFallsBackToCopy(t *testing.T) {
	forceCrossDevice(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "v20190101")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "x.nc"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "y.nc"), []byte("y"), 0o600))

	dst := filepath.Join(dir, "serving", "v20190101")
	require.NoError(t, Move(src, dst))
	assert.NoDirExists(t, src)
	assert.FileExists(t, filepath.Join(dst, "x.nc"))
	info, err := os.Stat(filepath.Join(dst, "sub", "y.nc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMove_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Move(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveWithRetry(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	require.NoError(t, RemoveWithRetry(p))
	require.NoError(t, RemoveWithRetry(p), "missing file is not an error")
}

func TestRemoveEmptyParents(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "tas", "gn", "v1")
	require.NoError(t, os.MkdirAll(leaf, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tas", "gr"), 0o755))

	require.NoError(t, RemoveEmptyParents(leaf, root))
	assert.NoDirExists(t, filepath.Join(root, "tas", "gn"))
	assert.DirExists(t, filepath.Join(root, "tas"), "tas still holds gr")
	assert.DirExists(t, root)
}

func TestWriteFileAtomicAndAppendLine(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.txt")
	require.NoError(t, WriteFileAtomic(p, []byte("one\n"), 0o644))
	require.NoError(t, WriteFileAtomic(p, []byte("two\n"), 0o644))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	cache := filepath.Join(dir, "cache", "tas_historical.txt")
	require.NoError(t, AppendLine(cache, "/a"))
	require.NoError(t, AppendLine(cache, "/b"))
	data, err = os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, "/a\n/b\n", string(data))
}
