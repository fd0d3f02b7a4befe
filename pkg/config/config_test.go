package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	dataPath := "/tmp/chain.dat"
	cfg := NewDefaultConfig(dataPath)

	if cfg.Version != CurrentConfigVersion {
		t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
	}

	if cfg.IndexPath != dataPath+".idx" {
		t.Errorf("expected index path %s, got %s", dataPath+".idx", cfg.IndexPath)
	}

	if cfg.SyncMode != SyncImmediate {
		t.Errorf("expected sync mode %s, got %s", SyncImmediate, cfg.SyncMode)
	}

	if !cfg.LockEnabled {
		t.Errorf("expected writer locking to be enabled by default")
	}

	if cfg.Telemetry.Enabled {
		t.Errorf("expected telemetry to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name:     "invalid version",
			mutate:   func(c *Config) { c.Version = 0 },
			expected: "invalid configuration: invalid version 0",
		},
		{
			name:     "empty data path",
			mutate:   func(c *Config) { c.DataPath = "" },
			expected: "invalid configuration: data path not specified",
		},
		{
			name:     "empty index path",
			mutate:   func(c *Config) { c.IndexPath = "" },
			expected: "invalid configuration: index path not specified",
		},
		{
			name:     "index equals data",
			mutate:   func(c *Config) { c.IndexPath = "/tmp/./chain.dat" },
			expected: "invalid configuration: data and index paths must differ",
		},
		{
			name:     "unknown sync mode",
			mutate:   func(c *Config) { c.SyncMode = 7 },
			expected: "invalid configuration: unknown sync mode 7",
		},
		{
			name:     "negative lock timeout",
			mutate:   func(c *Config) { c.LockTimeout = -1 },
			expected: "invalid configuration: lock timeout must not be negative",
		},
		{
			name:     "tls cert without key",
			mutate:   func(c *Config) { c.TLSCertFile = "server.crt" },
			expected: "invalid configuration: TLS certificate and key must be set together",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/chain.dat")
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if err.Error() != tc.expected {
				t.Errorf("expected error %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "chainlog.json")

	cfg := NewDefaultConfig(filepath.Join(dir, "chain.dat"))
	cfg.SyncMode = SyncNone
	cfg.LockTimeout = 250
	cfg.LogLevel = "debug"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary config file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.DataPath != cfg.DataPath || loaded.IndexPath != cfg.IndexPath {
		t.Errorf("paths not preserved: %s %s", loaded.DataPath, loaded.IndexPath)
	}
	if loaded.SyncMode != SyncNone {
		t.Errorf("expected sync mode none, got %s", loaded.SyncMode)
	}
	if loaded.LockTimeout != 250 || loaded.LogLevel != "debug" {
		t.Errorf("fields not preserved: timeout=%d level=%s", loaded.LockTimeout, loaded.LogLevel)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainlog.yaml")

	cfg := NewDefaultConfig(filepath.Join(dir, "chain.dat"))
	cfg.SyncMode = SyncNone
	cfg.Telemetry.MetricInterval = 30 * time.Second
	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if !strings.Contains(string(data), "sync_mode: none") || !strings.Contains(string(data), "metric_interval: 30s") {
		t.Errorf("unexpected YAML:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if loaded.SyncMode != SyncNone || loaded.Telemetry.MetricInterval != 30*time.Second {
		t.Errorf("fields not preserved: sync=%s interval=%s", loaded.SyncMode, loaded.Telemetry.MetricInterval)
	}

	handWritten := filepath.Join(dir, "hand.yml")
	content := "version: 1\ndata_path: /var/lib/chain.dat\nsync_mode: 1\n"
	if err := os.WriteFile(handWritten, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	loaded, err = Load(handWritten)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if loaded.SyncMode != SyncImmediate || loaded.IndexPath != "/var/lib/chain.dat.idx" {
		t.Errorf("unexpected config: sync=%s index=%s", loaded.SyncMode, loaded.IndexPath)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("version: 1\ndata_path: x\nsync_mode: sometimes\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadDerivesIndexPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainlog.json")
	content := `{"version": 1, "data_path": "/var/lib/chain.dat"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.IndexPath != "/var/lib/chain.dat.idx" {
		t.Errorf("expected derived index path, got %s", cfg.IndexPath)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainlog.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseSyncMode(t *testing.T) {
	for in, want := range map[string]SyncMode{"none": SyncNone, "": SyncNone, "IMMEDIATE": SyncImmediate} {
		got, err := ParseSyncMode(in)
		if err != nil || got != want {
			t.Errorf("ParseSyncMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSyncMode("sometimes"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/chain.dat")

	cfg.Update(func(c *Config) {
		c.SyncMode = SyncNone
		c.ListenAddr = "127.0.0.1:0"
	})

	if cfg.SyncMode != SyncNone {
		t.Errorf("expected sync mode none, got %s", cfg.SyncMode)
	}
	if cfg.ListenAddr != "127.0.0.1:0" {
		t.Errorf("expected listen addr to be updated, got %s", cfg.ListenAddr)
	}
}
