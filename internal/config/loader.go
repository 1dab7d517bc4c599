package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "FIELDSYNC",
	}
}

// Load reads configuration from file and environment. Environment
// variables (FIELDSYNC_API_BASE_URL etc.) override file values, which
// override defaults. A .env file in the working directory is applied
// first if present.
func (l *Loader) Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	l.setDefaults(v)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults mirrors DefaultConfig so viper can merge partial files.
func (l *Loader) setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout", def.API.Timeout)
	v.SetDefault("api.user_agent", def.API.UserAgent)
	v.SetDefault("api.health_endpoint", def.API.HealthEndpoint)
	v.SetDefault("api.heartbeat_url", def.API.HeartbeatURL)
	v.SetDefault("auth.token_file", def.Auth.TokenFile)
	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.db_file", def.Storage.DBFile)
	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.retry_delay", def.Sync.RetryDelay)
	v.SetDefault("sync.call_timeout", def.Sync.CallTimeout)
	v.SetDefault("cache.max_age", def.Cache.MaxAge)
	v.SetDefault("cache.stale_timeout", def.Cache.StaleTimeout)
	v.SetDefault("cache.read_timeout", def.Cache.ReadTimeout)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", def.Log.File)
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"fieldsync.json",
		".fieldsync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "fieldsync", "config.json"),
			filepath.Join(homeDir, ".fieldsync", "config.json"),
		)
	}

	return paths
}
