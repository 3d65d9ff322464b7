// Package config loads the markhost runtime configuration.
//
// Settings merge in three layers, later layers overriding earlier:
// built-in defaults, a YAML config file, and MARKHOST_* environment
// variables. Command-line flags are applied on top by the CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultEnv           = "server"
	DefaultInvokeTimeout = 5 * time.Second
	DefaultReloadDelay   = 500 * time.Millisecond
	DefaultLogLevel      = "info"
)

// Config holds the runtime settings.
type Config struct {
	// PlugDirs are the bundle search paths, earliest wins on name
	// collisions.
	PlugDirs []string `yaml:"plugDirs"`

	// Env is the environment the runtime identifies as, "client" or
	// "server".
	Env string `yaml:"env"`

	// MacKeys prefers mac keybindings from command declarations.
	MacKeys bool `yaml:"macKeys"`

	// InvokeTimeout bounds every sandbox invocation.
	InvokeTimeout time.Duration `yaml:"invokeTimeout"`

	// Watch reloads plugs when their sources change.
	Watch bool `yaml:"watch"`

	// ReloadDelay is the quiet interval before a watch-triggered reload.
	ReloadDelay time.Duration `yaml:"reloadDelay"`

	// LogLevel is the zap level name: debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PlugDirs:      []string{"plugs"},
		Env:           DefaultEnv,
		InvokeTimeout: DefaultInvokeTimeout,
		ReloadDelay:   DefaultReloadDelay,
		LogLevel:      DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, the optional YAML file
// at path, and the environment. An empty path skips the file layer; a
// named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from MARKHOST_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MARKHOST_PLUG_DIRS"); v != "" {
		c.PlugDirs = splitList(v)
	}
	if v := os.Getenv("MARKHOST_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("MARKHOST_MAC_KEYS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MacKeys = b
		}
	}
	if v := os.Getenv("MARKHOST_INVOKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.InvokeTimeout = d
		}
	}
	if v := os.Getenv("MARKHOST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Env {
	case "client", "server":
	default:
		return fmt.Errorf("invalid env %q, want client or server", c.Env)
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("invokeTimeout must be positive, got %s", c.InvokeTimeout)
	}
	if c.ReloadDelay <= 0 {
		return fmt.Errorf("reloadDelay must be positive, got %s", c.ReloadDelay)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel %q", c.LogLevel)
	}
	if len(c.PlugDirs) == 0 {
		return fmt.Errorf("at least one plug directory is required")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
