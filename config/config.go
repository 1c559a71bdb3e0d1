// Package config loads treekill settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/go-treekill/process"
)

// Environment variables that override file settings.
const (
	EnvLister      = "TREEKILL_LISTER"
	EnvGracePeriod = "TREEKILL_GRACE_PERIOD"
	EnvLedger      = "TREEKILL_LEDGER"
	EnvLogLevel    = "TREEKILL_LOG_LEVEL"
	EnvLogFormat   = "TREEKILL_LOG_FORMAT"
)

// LedgerOff disables the run ledger.
const LedgerOff = "off"

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config mirrors the config.yaml document.
type Config struct {
	// Shell is the argv prefix commands are appended to.
	Shell []string `yaml:"shell,omitempty"`
	// Lister selects child discovery: "psutil" or "pgrep".
	Lister string `yaml:"lister"`
	// GracePeriod is the wait between SIGTERM and SIGKILL when stopping a run.
	GracePeriod Duration `yaml:"grace_period"`
	// Timeout bounds `treekill run`; zero means none.
	Timeout Duration `yaml:"timeout"`
	// MaxOutput bounds captured bytes per stream.
	MaxOutput int `yaml:"max_output"`
	// Ledger is the run ledger path, empty for the default location or
	// "off" to disable it.
	Ledger string    `yaml:"ledger,omitempty"`
	Log    LogConfig `yaml:"log"`

	levelSet bool
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Lister:      process.ListerPsutil,
		GracePeriod: Duration{process.DefaultGracePeriod},
		MaxOutput:   process.DefaultMaxOutput,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultPath returns the config file location under the XDG config home.
func DefaultPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "treekill", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "treekill", "config.yaml")
	}
	return ""
}

// Load reads the configuration at path over the defaults, then applies
// environment overrides and validates the result. An empty path selects
// DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	level := c.Log.Level
	c.Log.Level = ""
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	if c.Log.Level != "" {
		c.levelSet = true
	} else {
		c.Log.Level = level
	}
	return nil
}

// ApplyEnv overrides fields from the environment through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLister); ok && v != "" {
		c.Lister = v
	}
	if v, ok := lookup(EnvGracePeriod); ok && v != "" {
		if err := c.GracePeriod.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvGracePeriod, err)
		}
	}
	if v, ok := lookup(EnvLedger); ok && v != "" {
		c.Ledger = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
		c.levelSet = true
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if len(c.Shell) > 0 && strings.TrimSpace(c.Shell[0]) == "" {
		return fmt.Errorf("shell: program must not be empty")
	}
	if _, err := process.NewChildLister(c.Lister); err != nil {
		return fmt.Errorf("lister: %w", err)
	}
	if c.GracePeriod.Duration < 0 {
		return fmt.Errorf("grace_period: must not be negative, got %s", c.GracePeriod)
	}
	if c.Timeout.Duration < 0 {
		return fmt.Errorf("timeout: must not be negative, got %s", c.Timeout)
	}
	if c.MaxOutput < 0 {
		return fmt.Errorf("max_output: must not be negative, got %d", c.MaxOutput)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// SetLogLevel overrides the log level, as a command line flag does.
func (c *Config) SetLogLevel(level string) {
	c.Log.Level = level
	c.levelSet = true
}

// LogLevelSet reports whether the log level came from the config file, the
// environment or SetLogLevel rather than the built-in default.
func (c *Config) LogLevelSet() bool {
	return c.levelSet
}

// LedgerEnabled reports whether runs should be recorded for orphan cleanup.
func (c *Config) LedgerEnabled() bool {
	return !strings.EqualFold(c.Ledger, LedgerOff)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
