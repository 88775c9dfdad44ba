package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configurable learntrace settings.
type Config struct {
	APIURL            string        `yaml:"api_url"`
	DynamicContent    *bool         `yaml:"dynamic_content"` // feature flag handed to the host
	FlushInterval     time.Duration `yaml:"flush_interval"`
	BatchSize         int           `yaml:"batch_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Timeouts          Timeouts      `yaml:"timeouts"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"` // "console" | "json"
	CollectorAddr     string        `yaml:"collector_addr"`
	DatabasePath      string        `yaml:"database_path"`
	DefaultFormat     string        `yaml:"default_format"` // report format: "markdown" | "json"
	OutputDir         string        `yaml:"output_dir"`
}

// Timeouts bounds outbound API calls.
type Timeouts struct {
	Default time.Duration `yaml:"default"`
	Focus   time.Duration `yaml:"focus"`
	Lookup  time.Duration `yaml:"lookup"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		APIURL:            "http://localhost:8000",
		DynamicContent:    boolPtr(false),
		FlushInterval:     10 * time.Second,
		BatchSize:         20,
		HeartbeatInterval: 10 * time.Second,
		Timeouts: Timeouts{
			Default: 10 * time.Second,
			Focus:   3 * time.Second,
			Lookup:  5 * time.Second,
		},
		LogLevel:      "info",
		LogFormat:     "console",
		CollectorAddr: "127.0.0.1:8000",
		DatabasePath:  defaultDatabasePath(),
		DefaultFormat: "markdown",
		OutputDir:     ".",
	}
}

// DynamicContentEnabled reports the dynamic content feature flag.
func (c Config) DynamicContentEnabled() bool {
	return c.DynamicContent != nil && *c.DynamicContent
}

// LoadGlobal reads ~/.config/learntrace/config.yaml.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "learntrace", "config.yaml")
	return loadFile(path, true)
}

// LoadProject reads .learntrace.yaml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".learntrace.yaml", false)
}

// loadFile reads and parses a YAML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	if global != nil {
		overlay(&result, global)
	}
	if project != nil {
		overlay(&result, project)
	}
	return result
}

// overlay copies every set field of src onto dst.
func overlay(dst, src *Config) {
	setString(&dst.APIURL, src.APIURL)
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.LogFormat, src.LogFormat)
	setString(&dst.CollectorAddr, src.CollectorAddr)
	setString(&dst.DatabasePath, src.DatabasePath)
	setString(&dst.DefaultFormat, src.DefaultFormat)
	setString(&dst.OutputDir, src.OutputDir)
	setDuration(&dst.FlushInterval, src.FlushInterval)
	setDuration(&dst.HeartbeatInterval, src.HeartbeatInterval)
	setDuration(&dst.Timeouts.Default, src.Timeouts.Default)
	setDuration(&dst.Timeouts.Focus, src.Timeouts.Focus)
	setDuration(&dst.Timeouts.Lookup, src.Timeouts.Lookup)
	if src.BatchSize > 0 {
		dst.BatchSize = src.BatchSize
	}
	if src.DynamicContent != nil {
		dst.DynamicContent = boolPtr(*src.DynamicContent)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func boolPtr(b bool) *bool { return &b }

// Environment variables read by ApplyEnv.
const (
	EnvAPIURL         = "LEARNTRACE_API_URL"
	EnvDynamicContent = "LEARNTRACE_DYNAMIC_CONTENT"
	EnvLogLevel       = "LEARNTRACE_LOG_LEVEL"
	EnvLogFormat      = "LEARNTRACE_LOG_FORMAT"
	EnvDatabase       = "LEARNTRACE_DB"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables already set win, and a
// missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &ParseError{Path: f, Err: err}
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any LEARNTRACE_* variables found by lookup.
// Pass os.LookupEnv in production.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		cfg.APIURL = v
	}
	if v, ok := lookup(EnvDynamicContent); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDynamicContent, err)
		}
		cfg.DynamicContent = boolPtr(b)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		cfg.LogFormat = v
	}
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		cfg.DatabasePath = v
	}
	return nil
}

// DataDir returns the learntrace-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "learntrace"), nil
}

func defaultDatabasePath() string {
	dir, err := DataDir()
	if err != nil {
		return "learntrace.db"
	}
	return filepath.Join(dir, "events.db")
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
