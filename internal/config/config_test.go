package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
	if cfg.Env != "server" {
		t.Errorf("Env = %q, want server", cfg.Env)
	}
	if cfg.InvokeTimeout != DefaultInvokeTimeout {
		t.Errorf("InvokeTimeout = %v, want %v", cfg.InvokeTimeout, DefaultInvokeTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markhost.yaml")
	raw := `
plugDirs:
  - /srv/plugs
  - /opt/plugs
env: client
macKeys: true
invokeTimeout: 10s
logLevel: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.PlugDirs) != 2 || cfg.PlugDirs[0] != "/srv/plugs" {
		t.Errorf("PlugDirs = %v", cfg.PlugDirs)
	}
	if cfg.Env != "client" {
		t.Errorf("Env = %q, want client", cfg.Env)
	}
	if !cfg.MacKeys {
		t.Error("MacKeys = false, want true")
	}
	if cfg.InvokeTimeout != 10*time.Second {
		t.Errorf("InvokeTimeout = %v, want 10s", cfg.InvokeTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Unset fields keep their defaults.
	if cfg.ReloadDelay != DefaultReloadDelay {
		t.Errorf("ReloadDelay = %v, want default", cfg.ReloadDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(absent) expected error")
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %q, want default", cfg.Env)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKHOST_ENV", "client")
	t.Setenv("MARKHOST_MAC_KEYS", "true")
	t.Setenv("MARKHOST_INVOKE_TIMEOUT", "250ms")
	t.Setenv("MARKHOST_PLUG_DIRS", "/a"+string(os.PathListSeparator)+"/b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Env != "client" || !cfg.MacKeys {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.InvokeTimeout != 250*time.Millisecond {
		t.Errorf("InvokeTimeout = %v, want 250ms", cfg.InvokeTimeout)
	}
	if len(cfg.PlugDirs) != 2 || cfg.PlugDirs[1] != "/b" {
		t.Errorf("PlugDirs = %v", cfg.PlugDirs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad env", func(c *Config) { c.Env = "edge" }},
		{"zero timeout", func(c *Config) { c.InvokeTimeout = 0 }},
		{"negative delay", func(c *Config) { c.ReloadDelay = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"no plug dirs", func(c *Config) { c.PlugDirs = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}
