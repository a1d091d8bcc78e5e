package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
archive:
  root: "/tmp/archive/CMIP6"
  staging_dir: "/scratch"
merge:
  format: container
  codec: zstd
  min_deflate_level: 6
  chunk_overrides:
    lat: 64
download:
  ignore_hosts: ["esgf.bad.example"]
  workers: 4
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/archive/CMIP6", cfg.Archive.Root)
	assert.Equal(t, "/scratch", cfg.Archive.StagingDir)
	assert.Equal(t, "container", cfg.Merge.Format)
	assert.Equal(t, "zstd", cfg.Merge.Codec)
	assert.Equal(t, 6, cfg.Merge.MinDeflateLevel)
	assert.Equal(t, map[string]int{"lat": 64}, cfg.Merge.ChunkOverrides)
	assert.Equal(t, []string{"esgf.bad.example"}, cfg.Download.IgnoreHosts)
	assert.Equal(t, 4, cfg.Download.Workers)

	// Defaults that were not overridden
	assert.Equal(t, 5, cfg.Download.Attempts)
	assert.Equal(t, "esgf-node.llnl.gov", cfg.Download.SearchNode)
	assert.Equal(t, "~/.cmip6_utils", cfg.Archive.CacheDir)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Merge.MinDeflateLevel)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "deflate", cfg.Merge.Codec)
	assert.Equal(t, "netcdf4", cfg.Merge.Format)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(strings.NewReader("merge:\n  codec: [unterminated\n"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	for _, doc := range []string{
		"merge:\n  min_deflate_level: 11\n",
		"merge:\n  chunk_overrides:\n    time: 0\n",
		"download:\n  attempts: 0\n",
		"download:\n  workers: -1\n",
		"merge:\n  format: \"\"\n",
		"merge:\n  codec: snappy\n",
	} {
		_, err := Load(strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "cmip6kit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Equal(t, 5*time.Second, ParseDuration("", 5*time.Second, logger))
	assert.Equal(t, 30*time.Second, ParseDuration("30s", 5*time.Second, logger))
	assert.Empty(t, buf.String())

	assert.Equal(t, 5*time.Second, ParseDuration("soon", 5*time.Second, logger))
	assert.Contains(t, buf.String(), "Invalid duration format")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cmip6_utils"), ExpandHome("~/.cmip6_utils"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
