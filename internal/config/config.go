package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatterd/config.toml.
type Config struct {
	// ServerURL is the chat service base URL, e.g. "https://chat.example.com".
	// The push channel URL is derived from it per connection attempt.
	ServerURL      string `toml:"server_url"`
	DefaultSession string `toml:"default_session"`

	// Reconnect tuning. Zero values fall back to the transport defaults
	// (5s delay, 60 attempts).
	ReconnectDelaySeconds int `toml:"reconnect_delay_seconds"`
	ReconnectMaxAttempts  int `toml:"reconnect_max_attempts"`
}

// ReconnectDelay returns the configured retry delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
