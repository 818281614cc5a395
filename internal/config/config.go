// Package config loads the toolwire CLI configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/skosovsky/toolwire"
)

// Approval modes.
const (
	ApproveAll    = "auto"
	DenyAll       = "deny"
	DenyDangerous = "deny-dangerous"
)

const (
	defaultChunkSize    = 64
	defaultMaxParallel  = 4
	defaultMaxRetries   = toolwire.RetryLimit
	defaultMaxResults   = 200
	defaultWebCacheSize = 64
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultTimeout      = 60 * time.Second
)

// Config is the CLI configuration.
type Config struct {
	Engine EngineConfig `toml:"engine"`
	FS     FSConfig     `toml:"fs"`
	Web    WebConfig    `toml:"web"`
	Log    LogConfig    `toml:"log"`
}

// EngineConfig tunes the engine and registry.
type EngineConfig struct {
	Approval       string   `toml:"approval"`
	ChunkSize      int      `toml:"chunk_size"`
	MaxParallelism int      `toml:"max_parallelism"`
	MaxRetries     int      `toml:"max_retries"`
	DefaultTimeout Duration `toml:"default_timeout"`
	NetworkTimeout Duration `toml:"network_timeout"`
}

// FSConfig configures the file system tools. An empty Root disables them.
type FSConfig struct {
	Root       string `toml:"root"`
	ReadOnly   bool   `toml:"read_only"`
	MaxResults int    `toml:"max_results"`
}

// WebConfig configures web_fetch.
type WebConfig struct {
	Enabled   bool     `toml:"enabled"`
	CacheSize int      `toml:"cache_size"`
	CacheTTL  Duration `toml:"cache_ttl"`
	UserAgent string   `toml:"user_agent"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			Approval:       ApproveAll,
			ChunkSize:      defaultChunkSize,
			MaxParallelism: defaultMaxParallel,
			MaxRetries:     defaultMaxRetries,
			DefaultTimeout: Duration{defaultTimeout},
			NetworkTimeout: Duration{30 * time.Second},
		},
		FS: FSConfig{
			Root:       ".",
			MaxResults: defaultMaxResults,
		},
		Web: WebConfig{
			CacheSize: defaultWebCacheSize,
			CacheTTL:  Duration{5 * time.Minute},
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Engine.Approval {
	case ApproveAll, DenyAll, DenyDangerous:
	default:
		errs = append(errs, fmt.Errorf("engine.approval: unknown mode %q", c.Engine.Approval))
	}
	if c.Engine.ChunkSize < 1 {
		errs = append(errs, errors.New("engine.chunk_size: must be at least 1"))
	}
	if c.Engine.MaxRetries < 0 || c.Engine.MaxRetries > toolwire.RetryLimit {
		errs = append(errs, fmt.Errorf("engine.max_retries: must be between 0 and %d", toolwire.RetryLimit))
	}
	if c.Engine.DefaultTimeout.Duration <= 0 {
		errs = append(errs, errors.New("engine.default_timeout: must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
