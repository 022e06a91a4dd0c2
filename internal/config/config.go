// Package config loads the runtime configuration for the index: page/pool
// sizing, the starting bucket count, where the database file lives, and
// the log level, in the precedence order flags > file > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds every option a hashindex process needs to open or create a
// database file and size its buffer pool.
type Config struct {
	// DBPath is the backing file path. Required; has no default.
	DBPath string `json:"db_path,omitempty"`
	// PoolSize is the number of frames the buffer pool holds in memory.
	PoolSize int `json:"pool_size,omitempty"`
	// InitialBuckets is the starting bucket count for a newly created
	// table. Ignored when opening an existing database file.
	InitialBuckets uint64 `json:"initial_buckets,omitempty"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log_level,omitempty"`
}

var (
	ErrDBPathRequired  = errors.New("config: db_path is required")
	ErrConfigFileRead  = errors.New("config: cannot read config file")
	ErrConfigInvalid   = errors.New("config: invalid config file")
	ErrInvalidLogLevel = errors.New("config: invalid log_level")
)

// Default returns the built-in defaults. DBPath is intentionally left
// empty: it must come from a config file or --db-path.
func Default() Config {
	return Config{
		PoolSize:       64,
		InitialBuckets: 512,
		LogLevel:       "info",
	}
}

// Load applies, in increasing precedence, the defaults, an optional JSONC
// file at path (skipped when path is empty; a non-empty path that cannot be
// read is an error), and overrides, then validates the result. Only the
// overrides fields whose names are marked in changed are applied, zero
// values included, matching the teacher's hasTicketDirOverride flag pattern
// generalized to every field.
func Load(path string, overrides Config, changed map[string]bool) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = applyOverrides(cfg, overrides, changed)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfigFileRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: invalid JSONC: %v", ErrConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DBPath != "" {
		base.DBPath = overlay.DBPath
	}
	if overlay.PoolSize != 0 {
		base.PoolSize = overlay.PoolSize
	}
	if overlay.InitialBuckets != 0 {
		base.InitialBuckets = overlay.InitialBuckets
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

// applyOverrides only takes fields the caller marked as changed (flag
// explicitly passed on the command line), so an override of the zero value
// (e.g. --pool-size=0, were that ever meaningful) still takes effect.
func applyOverrides(base, overrides Config, changed map[string]bool) Config {
	if changed["db_path"] {
		base.DBPath = overrides.DBPath
	}
	if changed["pool_size"] {
		base.PoolSize = overrides.PoolSize
	}
	if changed["initial_buckets"] {
		base.InitialBuckets = overrides.InitialBuckets
	}
	if changed["log_level"] {
		base.LogLevel = overrides.LogLevel
	}

	return base
}

func validate(cfg Config) error {
	if cfg.DBPath == "" {
		return ErrDBPathRequired
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel)
	}

	return nil
}

// Format returns cfg as formatted JSON, for a "show effective config"
// diagnostic command.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: formatting: %w", err)
	}

	return string(data), nil
}

// Save writes cfg to path as formatted JSON via a temp-file-plus-rename so
// a crash mid-write can never leave a truncated config file behind.
func Save(path string, cfg Config) error {
	formatted, err := Format(cfg)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, strings.NewReader(formatted)); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}
