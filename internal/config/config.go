// Package config loads and validates the kiosk's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "45s" or "2m". yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full kiosk configuration.
type Config struct {
	// KioskID identifies this kiosk in schedule entries and uploads.
	KioskID string `yaml:"kiosk_id"`

	// DatabasePath locates the SQLite local cache file.
	DatabasePath string `yaml:"database_path"`

	// SessionPath locates the bbolt device-session file.
	SessionPath string `yaml:"session_path"`

	// ReaderPath is the proximity reader device, e.g. /dev/ttyUSB0.
	ReaderPath string `yaml:"reader_path"`

	// RemoteURL is the base URL of the authoritative store.
	RemoteURL string `yaml:"remote_url"`

	// ConnectionKey authenticates this device to the remote store.
	ConnectionKey string `yaml:"connection_key"`

	// PullInterval is the periodic directory refresh cadence.
	PullInterval Duration `yaml:"pull_interval"`

	// PushInterval is the periodic upload cadence.
	PushInterval Duration `yaml:"push_interval"`

	// RemoteTimeout bounds each remote call.
	RemoteTimeout Duration `yaml:"remote_timeout"`

	// MaxPushAttempts bounds per-row push retries before a row is
	// surfaced as stuck.
	MaxPushAttempts int `yaml:"max_push_attempts"`
}

// Default returns a config with every tunable at its default.
func Default() Config {
	return Config{
		DatabasePath:    "kioskd.db",
		SessionPath:     "kioskd.session",
		PullInterval:    Duration(45 * time.Second),
		PushInterval:    Duration(20 * time.Second),
		RemoteTimeout:   Duration(10 * time.Second),
		MaxPushAttempts: 10,
	}
}

// Load reads a YAML config file, fills defaults, and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and tunable bounds.
func (c Config) Validate() error {
	if c.KioskID == "" {
		return fmt.Errorf("config: kiosk_id is required")
	}
	if c.RemoteURL == "" {
		return fmt.Errorf("config: remote_url is required")
	}
	if c.ReaderPath == "" {
		return fmt.Errorf("config: reader_path is required")
	}
	if c.PullInterval <= 0 || c.PushInterval <= 0 {
		return fmt.Errorf("config: sync intervals must be positive")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("config: remote_timeout must be positive")
	}
	if c.MaxPushAttempts < 1 {
		return fmt.Errorf("config: max_push_attempts must be at least 1")
	}
	return nil
}
