// Package config loads the client configuration from ~/.chatsync/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// MemoryCachePath selects the in-memory cache instead of a database file.
const MemoryCachePath = ":memory:"

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	// BaseURL is the backend REST endpoint, e.g. https://api.example.com/v1.
	BaseURL string `toml:"base_url"`
	// PushURL is the push-channel websocket endpoint.
	PushURL string `toml:"push_url"`
	// Token authenticates both the REST and push connections.
	Token string `toml:"token"`
	// ViewerRole is the side this client acts as: "admin" or "company".
	ViewerRole string `toml:"viewer_role"`

	// CachePath points at the persistent cache database. Empty selects the
	// default under ~/.chatsync; MemoryCachePath selects the in-memory cache.
	CachePath string `toml:"cache_path"`
	// CacheMaxEntries bounds the cache before oldest-20% eviction kicks in.
	CacheMaxEntries int `toml:"cache_max_entries"`

	// RequestTimeoutSeconds bounds each REST call.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	// HeartbeatSeconds is the push-channel ping interval.
	HeartbeatSeconds int `toml:"heartbeat_seconds"`
}

// Load reads config from the given path and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
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

func (c *Config) applyDefaults() {
	if c.ViewerRole == "" {
		c.ViewerRole = "admin"
	}
	if c.CachePath == "" {
		c.CachePath = CacheDBPath()
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 1024
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 15
	}
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = 25
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.PushURL == "" {
		return fmt.Errorf("config: push_url is required")
	}
	if c.ViewerRole != "admin" && c.ViewerRole != "company" {
		return fmt.Errorf("config: viewer_role must be admin or company, got %q", c.ViewerRole)
	}
	return nil
}
