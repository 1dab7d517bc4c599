package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Cache behavior
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent      string        `json:"user_agent" mapstructure:"user_agent"`
	HealthEndpoint string        `json:"health_endpoint" mapstructure:"health_endpoint"`

	// HeartbeatURL, when set, switches connectivity detection from
	// interval probing to a persistent WebSocket against this endpoint.
	HeartbeatURL string `json:"heartbeat_url,omitempty" mapstructure:"heartbeat_url"`
}

// AuthConfig for credential handling.
type AuthConfig struct {
	// Bearer token persistence. The transport reads the token at call
	// time; authentication itself happens against the server.
	TokenFile string `json:"token_file" mapstructure:"token_file"`
}

// StorageConfig for local data paths.
type StorageConfig struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	DBFile  string `json:"db_file" mapstructure:"db_file"`
}

// SyncConfig for the synchronization processor.
type SyncConfig struct {
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

// CacheConfig for the cache-aware read path.
type CacheConfig struct {
	MaxAge       time.Duration `json:"max_age" mapstructure:"max_age"`
	StaleTimeout time.Duration `json:"stale_timeout" mapstructure:"stale_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // empty = stdout
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".fieldsync"

	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.fieldsync.example.com",
			Timeout:        30 * time.Second,
			UserAgent:      "fieldsync-go/1.0",
			HealthEndpoint: "/api/v1/health",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "token.json"),
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			DBFile:  filepath.Join(dataDir, "cache.db"),
		},
		Sync: SyncConfig{
			MaxRetries:  3,
			RetryDelay:  2 * time.Second,
			CallTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxAge:       15 * time.Minute,
			StaleTimeout: time.Second,
			ReadTimeout:  10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}

	if c.Sync.RetryDelay < 0 {
		return errors.New("sync.retry_delay must not be negative")
	}

	if c.Cache.MaxAge <= 0 {
		return errors.New("cache.max_age must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.DBFile),
		filepath.Dir(c.Auth.TokenFile),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
