// Package config provides unified configuration loading for tracegraph.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tracegraph/internal/logging"
)

// Config contains all tracegraph configuration settings.
type Config struct {
	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures the SQLite database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Propagation configures suspect flagging after requirement writes.
	Propagation PropagationConfig `json:"propagation" yaml:"propagation"`

	// History configures requirement history queries.
	History HistoryConfig `json:"history" yaml:"history"`

	// MCP configures the tool server.
	MCP MCPConfig `json:"mcp" yaml:"mcp"`
}

// LoggingConfig configures tracegraph's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default),
	// "debug" or "trace". "debug" enables decision logging to
	// .tracegraph/decisions.jsonl.
	Level string `json:"level" yaml:"level"`
}

// StoreConfig configures the database location and lock handling.
type StoreConfig struct {
	// Path overrides the database file. Empty means <root>/.tracegraph/tracegraph.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

// PropagationConfig configures the suspect propagator.
type PropagationConfig struct {
	// Enabled subscribes the propagator to node changes.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Reason is recorded on links raised after a requirement write.
	Reason string `json:"reason" yaml:"reason"`
}

// HistoryConfig configures history listings.
type HistoryConfig struct {
	// DefaultLimit applies when a caller gives no limit. Range: 1 to 200.
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`
}

// MCPConfig configures per-tool rate limiting on the tool server.
type MCPConfig struct {
	// RatePerMinute is the sustained call rate per tool. 0 disables limiting.
	RatePerMinute int `json:"rate_per_minute" yaml:"rate_per_minute"`

	// Burst is the number of calls allowed at once.
	Burst int `json:"burst" yaml:"burst"`
}

const (
	maxHistoryLimit = 200
	dirName         = ".tracegraph"
	fileName        = "config.yaml"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			BusyTimeout: 5 * time.Second,
		},
		Propagation: PropagationConfig{
			Enabled: true,
			Reason:  "requirement updated",
		},
		History: HistoryConfig{
			DefaultLimit: 20,
		},
		MCP: MCPConfig{
			RatePerMinute: 120,
			Burst:         20,
		},
	}
}

// DefaultPath returns ~/.tracegraph/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, dirName, fileName), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.tracegraph/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Path = expandEnvVars(config.Store.Path)

	return config, nil
}

// Save writes the configuration as YAML to path, creating parent
// directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("busy_timeout must be non-negative, got %v", c.Store.BusyTimeout)
	}

	if c.History.DefaultLimit < 1 || c.History.DefaultLimit > maxHistoryLimit {
		return fmt.Errorf("default_limit must be between 1 and %d, got %d", maxHistoryLimit, c.History.DefaultLimit)
	}

	if c.MCP.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute must be non-negative, got %d", c.MCP.RatePerMinute)
	}
	if c.MCP.RatePerMinute > 0 && c.MCP.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting is enabled, got %d", c.MCP.Burst)
	}

	return nil
}

// Keys lists every dot-notation key understood by Get and Set.
var Keys = []string{
	"logging.level",
	"store.path",
	"store.busy_timeout",
	"propagation.enabled",
	"propagation.reason",
	"history.default_limit",
	"mcp.rate_per_minute",
	"mcp.burst",
}

// Get retrieves a configuration value by dot-notation key.
func (c *Config) Get(key string) (interface{}, bool) {
	switch key {
	case "logging.level":
		return c.Logging.Level, true
	case "store.path":
		return c.Store.Path, true
	case "store.busy_timeout":
		return c.Store.BusyTimeout.String(), true
	case "propagation.enabled":
		return c.Propagation.Enabled, true
	case "propagation.reason":
		return c.Propagation.Reason, true
	case "history.default_limit":
		return c.History.DefaultLimit, true
	case "mcp.rate_per_minute":
		return c.MCP.RatePerMinute, true
	case "mcp.burst":
		return c.MCP.Burst, true
	default:
		return nil, false
	}
}

// Set sets a configuration value by dot-notation key. The result is
// validated; on error c is left unchanged.
func (c *Config) Set(key, value string) error {
	next := *c
	switch key {
	case "logging.level":
		next.Logging.Level = value
	case "store.path":
		next.Store.Path = value
	case "store.busy_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", value)
		}
		next.Store.BusyTimeout = d
	case "propagation.enabled":
		next.Propagation.Enabled = parseBool(value)
	case "propagation.reason":
		next.Propagation.Reason = value
	case "history.default_limit", "mcp.rate_per_minute", "mcp.burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		switch key {
		case "history.default_limit":
			next.History.DefaultLimit = n
		case "mcp.rate_per_minute":
			next.MCP.RatePerMinute = n
		default:
			next.MCP.Burst = n
		}
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TRACEGRAPH_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("TRACEGRAPH_DB_PATH"); v != "" {
		config.Store.Path = v
	}

	if v := os.Getenv("TRACEGRAPH_PROPAGATION"); v != "" {
		config.Propagation.Enabled = parseBool(v)
	}

	if v := os.Getenv("TRACEGRAPH_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.History.DefaultLimit = n
		}
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
