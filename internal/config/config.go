package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/mmcdole/sonata/internal/log"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig `mapstructure:"server"`
	Cache   CacheConfig  `mapstructure:"cache"`
	Logging log.Config   `mapstructure:"logging"`
}

// ServerConfig holds media server connection parameters
type ServerConfig struct {
	URL      string `mapstructure:"url"`      // Server base URL
	Username string `mapstructure:"username"` // Subsonic username
	Password string `mapstructure:"password"` // Used for token+salt auth, never sent in the clear
}

// CacheConfig holds local cache and download configuration
type CacheConfig struct {
	Dir                     string `mapstructure:"dir"`                       // Cache root directory ("" = memory only)
	ConcurrentDownloadLimit int    `mapstructure:"concurrent_download_limit"` // Simultaneous fetches across the process
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{},
		Cache: CacheConfig{
			Dir:                     defaultCachePath(),
			ConcurrentDownloadLimit: 5,
		},
		Logging: log.Config{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "sonata", "sonata.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "sonata", "sonata.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "sonata")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "sonata")
	}
}

// defaultCachePath returns the default cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "sonata", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "sonata", "cache")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("SONATA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	viper.Set("server.url", cfg.Server.URL)
	viper.Set("server.username", cfg.Server.Username)
	viper.Set("server.password", cfg.Server.Password)
	viper.Set("cache.dir", cfg.Cache.Dir)
	viper.Set("cache.concurrent_download_limit", cfg.Cache.ConcurrentDownloadLimit)
	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server connection parameters are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Username != ""
}
