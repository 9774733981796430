// Package config holds the application settings: a plain struct loaded
// through viper from defaults, a YAML file and NWBINFO_* environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MinBlockSize is the smallest allowed remote fetch granularity.
const MinBlockSize = 4 * 1024

// Settings is the full application configuration.
type Settings struct {
	Log    LogSettings    `yaml:"log" mapstructure:"log"`
	HTTP   HTTPSettings   `yaml:"http" mapstructure:"http"`
	Remote RemoteSettings `yaml:"remote" mapstructure:"remote"`
	Dandi  DandiSettings  `yaml:"dandi" mapstructure:"dandi"`
}

// LogSettings controls the stderr logger.
type LogSettings struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPSettings tunes the shared HTTP client.
type HTTPSettings struct {
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryCount int           `yaml:"retry_count" mapstructure:"retry_count"`
	RateLimit  float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst  int           `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// RemoteSettings tunes the ranged reader and its caches.
type RemoteSettings struct {
	BlockSize   int64  `yaml:"block_size" mapstructure:"block_size"`
	CacheBlocks int    `yaml:"cache_blocks" mapstructure:"cache_blocks"`
	DiskCache   bool   `yaml:"disk_cache" mapstructure:"disk_cache"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// DandiSettings points at a DANDI archive instance.
type DandiSettings struct {
	APIURL string `yaml:"api_url" mapstructure:"api_url"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPSettings{
			Timeout:    60 * time.Second,
			RetryCount: 3,
			RateLimit:  20,
			RateBurst:  40,
		},
		Remote: RemoteSettings{
			BlockSize:   256 * 1024,
			CacheBlocks: 64,
			DiskCache:   false,
			CacheDir:    "",
		},
		Dandi: DandiSettings{
			APIURL: "https://api.dandiarchive.org/api",
		},
	}
}

// DefaultPath returns ~/.config/nwbinfo/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "nwbinfo", "config.yaml"), nil
}

// Load reads settings from the given file (optional) and NWBINFO_*
// environment variables layered over the defaults.
func Load(path string) (Settings, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("http.timeout", defaults.HTTP.Timeout)
	v.SetDefault("http.retry_count", defaults.HTTP.RetryCount)
	v.SetDefault("http.rate_limit", defaults.HTTP.RateLimit)
	v.SetDefault("http.rate_burst", defaults.HTTP.RateBurst)
	v.SetDefault("remote.block_size", defaults.Remote.BlockSize)
	v.SetDefault("remote.cache_blocks", defaults.Remote.CacheBlocks)
	v.SetDefault("remote.disk_cache", defaults.Remote.DiskCache)
	v.SetDefault("remote.cache_dir", defaults.Remote.CacheDir)
	v.SetDefault("dandi.api_url", defaults.Dandi.APIURL)
	v.SetDefault("dandi.api_key", defaults.Dandi.APIKey)

	v.SetEnvPrefix("NWBINFO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the readers cannot work with.
func (s Settings) Validate() error {
	if s.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %s", s.HTTP.Timeout)
	}
	if s.HTTP.RetryCount < 0 {
		return fmt.Errorf("http.retry_count must not be negative, got %d", s.HTTP.RetryCount)
	}
	if s.HTTP.RateLimit <= 0 {
		return fmt.Errorf("http.rate_limit must be positive, got %g", s.HTTP.RateLimit)
	}
	if s.Remote.BlockSize < MinBlockSize {
		return fmt.Errorf("remote.block_size must be at least %d, got %d", MinBlockSize, s.Remote.BlockSize)
	}
	if s.Remote.CacheBlocks <= 0 {
		return fmt.Errorf("remote.cache_blocks must be positive, got %d", s.Remote.CacheBlocks)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// YAML renders the settings as the config file format.
func (s Settings) YAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// WriteFile writes the settings to path, creating parent directories.
func (s Settings) WriteFile(path string) error {
	out, err := s.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
