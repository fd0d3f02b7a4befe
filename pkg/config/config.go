package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/KevoDB/chainlog/pkg/telemetry"
)

const (
	// CurrentConfigVersion is the version written into new config files
	CurrentConfigVersion = 1
	// IndexSuffix is appended to a data path to derive its default index path
	IndexSuffix = ".idx"
	// DefaultListenAddr is the gRPC listen address used by `chainlog serve`
	DefaultListenAddr = "localhost:50061"
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config not found")
)

// SyncMode controls when appended blocks are forced to stable storage
type SyncMode int

const (
	// SyncNone leaves flushing to the operating system
	SyncNone SyncMode = iota
	// SyncImmediate fsyncs the data file and then the index on every append
	SyncImmediate
)

// String returns the config file spelling of the mode
func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode converts "none" or "immediate" into a SyncMode
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return SyncNone, nil
	case "immediate", "always":
		return SyncImmediate, nil
	default:
		return SyncNone, fmt.Errorf("%w: unknown sync mode %q", ErrInvalidConfig, s)
	}
}

// MarshalYAML writes the mode by name
func (m SyncMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// UnmarshalYAML accepts a mode name or its number
func (m *SyncMode) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		*m = SyncMode(n)
		return nil
	}
	mode, err := ParseSyncMode(value.Value)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// isYAML reports whether path names a YAML config file. Anything else is JSON.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// DefaultIndexPath returns the index path paired with dataPath
func DefaultIndexPath(dataPath string) string {
	return dataPath + IndexSuffix
}

type Config struct {
	Version int `json:"version" yaml:"version"`

	// Chain files
	DataPath  string   `json:"data_path" yaml:"data_path"`
	IndexPath string   `json:"index_path" yaml:"index_path"`
	SyncMode  SyncMode `json:"sync_mode" yaml:"sync_mode"`

	// Writer locking
	LockEnabled bool  `json:"lock_enabled" yaml:"lock_enabled"`
	LockTimeout int64 `json:"lock_timeout_ms" yaml:"lock_timeout_ms"` // 0 fails immediately when the lock is held

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	// Server
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	TLSCertFile string `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`

	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataPath string) *Config {
	tel := telemetry.DefaultConfig()
	tel.Enabled = false

	return &Config{
		Version: CurrentConfigVersion,

		DataPath:  dataPath,
		IndexPath: DefaultIndexPath(dataPath),
		SyncMode:  SyncImmediate,

		LockEnabled: true,
		LockTimeout: 0,

		LogLevel:  "info",
		LogFormat: "text",

		ListenAddr: DefaultListenAddr,

		Telemetry: tel,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.DataPath == "" {
		return fmt.Errorf("%w: data path not specified", ErrInvalidConfig)
	}

	if c.IndexPath == "" {
		return fmt.Errorf("%w: index path not specified", ErrInvalidConfig)
	}

	if filepath.Clean(c.DataPath) == filepath.Clean(c.IndexPath) {
		return fmt.Errorf("%w: data and index paths must differ", ErrInvalidConfig)
	}

	if c.SyncMode != SyncNone && c.SyncMode != SyncImmediate {
		return fmt.Errorf("%w: unknown sync mode %d", ErrInvalidConfig, c.SyncMode)
	}

	if c.LockTimeout < 0 {
		return fmt.Errorf("%w: lock timeout must not be negative", ErrInvalidConfig)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("%w: TLS certificate and key must be set together", ErrInvalidConfig)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// Load reads and validates a config file, YAML for .yaml and .yml paths and
// JSON otherwise
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.IndexPath == "" && cfg.DataPath != "" {
		cfg.IndexPath = DefaultIndexPath(cfg.DataPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path via a temporary file and rename, in
// the format Load picks for that path
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
