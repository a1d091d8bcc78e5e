package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig locates the archive trees.
type ArchiveConfig struct {
	// Root is the directory holding the activity directories (CMIP, ScenarioMIP).
	Root string `yaml:"root"`
	// ServingDir mirrors Root for finished datasets.
	ServingDir string `yaml:"serving_dir"`
	// QuarantineDir receives superseded dataset versions.
	QuarantineDir string `yaml:"quarantine_dir"`
	// CacheDir holds the reviewed-dataset allow lists.
	CacheDir string `yaml:"cache_dir"`
	// StagingDir is where merges are written before relocation. Empty means
	// the system temp directory.
	StagingDir  string `yaml:"staging_dir"`
	LockTimeout string `yaml:"lock_timeout"`
}

// MergeConfig holds combine settings.
type MergeConfig struct {
	Format          string         `yaml:"format"`            // array-file format, "netcdf4" or "container"
	Codec           string         `yaml:"codec"`             // e.g., "deflate", "zstd", "snappy", "lz4", "none"
	MinDeflateLevel int            `yaml:"min_deflate_level"` // floor for multi-dimensional variables
	ZstdLevel       int            `yaml:"zstd_level"`
	ChunkOverrides  map[string]int `yaml:"chunk_overrides"` // dimension name -> chunk size
	MinFreeBytes    uint64         `yaml:"min_free_bytes"`  // extra headroom required in the staging dir
}

// DownloadConfig holds ESGF client settings.
type DownloadConfig struct {
	SearchNode  string   `yaml:"search_node"`
	Timeout     string   `yaml:"timeout"`
	Attempts    int      `yaml:"attempts"`
	RetryDelay  string   `yaml:"retry_delay"`
	IgnoreHosts []string `yaml:"ignore_hosts"`
	Workers     int      `yaml:"workers"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Archive  ArchiveConfig  `yaml:"archive"`
	Merge    MergeConfig    `yaml:"merge"`
	Download DownloadConfig `yaml:"download"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Root:          "/data/Datasets/CMIP6",
			ServingDir:    "/data/birdhouse-persist/ncml/CMIP6",
			QuarantineDir: "/data/Datasets/CMIP6_duplicate_versions_deleted",
			CacheDir:      "~/.cmip6_utils",
			StagingDir:    "",
			LockTimeout:   "5s",
		},
		Merge: MergeConfig{
			Format:          "netcdf4",
			Codec:           "deflate",
			MinDeflateLevel: 4,
			ZstdLevel:       3,
			ChunkOverrides:  nil,
			MinFreeBytes:    0,
		},
		Download: DownloadConfig{
			SearchNode:  "esgf-node.llnl.gov",
			Timeout:     "5s",
			Attempts:    5,
			RetryDelay:  "5s",
			IgnoreHosts: nil,
			Workers:     10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "cmip6kit.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make every command fail later.
func (c *Config) Validate() error {
	if c.Merge.Format == "" {
		return fmt.Errorf("merge.format must not be empty")
	}
	if c.Merge.Format == "netcdf4" {
		switch strings.ToLower(c.Merge.Codec) {
		case "deflate", "none":
		default:
			return fmt.Errorf("merge.codec %q is not available for netcdf4 files, use deflate or none", c.Merge.Codec)
		}
	}
	if c.Merge.MinDeflateLevel < 0 || c.Merge.MinDeflateLevel > 9 {
		return fmt.Errorf("merge.min_deflate_level must be within 0..9, got %d", c.Merge.MinDeflateLevel)
	}
	for dim, size := range c.Merge.ChunkOverrides {
		if size <= 0 {
			return fmt.Errorf("merge.chunk_overrides[%s] must be positive, got %d", dim, size)
		}
	}
	if c.Download.Attempts <= 0 {
		return fmt.Errorf("download.attempts must be positive, got %d", c.Download.Attempts)
	}
	if c.Download.Workers <= 0 {
		return fmt.Errorf("download.workers must be positive, got %d", c.Download.Workers)
	}
	return nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
