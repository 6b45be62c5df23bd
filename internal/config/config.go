// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Session limits and pipeline tuning
	Session SessionConfig `mapstructure:"session"`

	// Capture tier selection tuning
	Capture CaptureConfig `mapstructure:"capture"`

	// Remote agent transport (SSH)
	Server ServerConfig `mapstructure:"server"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// SessionConfig bounds per-session resource use and the input pipeline.
type SessionConfig struct {
	MaxEventsPerSec  int `mapstructure:"max_events_per_sec"` // sustained token refill rate
	BurstLimit       int `mapstructure:"burst_limit"`        // token bucket capacity
	MaxSessions      int `mapstructure:"max_sessions"`       // concurrent session cap
	BackendTimeoutMs int `mapstructure:"backend_timeout_ms"` // bound on blocking backend calls
}

// CaptureConfig tunes capture tier selection.
type CaptureConfig struct {
	// MinDmabufVersion is the minimum linux-dmabuf protocol version
	// required before the GPU zero-copy tier is considered usable.
	MinDmabufVersion uint32 `mapstructure:"min_dmabuf_version"`
}

// ServerConfig contains the SSH listener settings for remote agents
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
	MaxAgents   int    `mapstructure:"max_agents"`

	SSHHostKeyPath   string   `mapstructure:"ssh_host_key_path"`
	SSHWhitelist     []string `mapstructure:"ssh_whitelist"`      // List of allowed SSH key fingerprints
	SSHWhitelistOnly bool     `mapstructure:"ssh_whitelist_only"` // Only allow whitelisted keys
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	FileLogging bool   `mapstructure:"file_logging"` // Enable/disable file logging
	LogLevel    string `mapstructure:"log_level"`    // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Session: SessionConfig{
			MaxEventsPerSec:  1000,
			BurstLimit:       100,
			MaxSessions:      16,
			BackendTimeoutMs: 2000,
		},
		Capture: CaptureConfig{
			MinDmabufVersion: 3,
		},
		Server: ServerConfig{
			Port:             52530,
			BindAddress:      "0.0.0.0",
			MaxAgents:        4,
			SSHHostKeyPath:   "/etc/waygate/host_key",
			SSHWhitelist:     []string{},
			SSHWhitelistOnly: true,
		},
		Logging: LoggingConfig{
			FileLogging: true,
			LogLevel:    "",
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("waygate")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/waygate") // System config directory (primary)

		// If running with sudo, try the real user's config
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			viper.AddConfigPath(fmt.Sprintf("/home/%s/.config/waygate", sudoUser))
		} else if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "waygate"))
		}

		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("session.max_events_per_sec", DefaultConfig.Session.MaxEventsPerSec)
	viper.SetDefault("session.burst_limit", DefaultConfig.Session.BurstLimit)
	viper.SetDefault("session.max_sessions", DefaultConfig.Session.MaxSessions)
	viper.SetDefault("session.backend_timeout_ms", DefaultConfig.Session.BackendTimeoutMs)

	viper.SetDefault("capture.min_dmabuf_version", DefaultConfig.Capture.MinDmabufVersion)

	viper.SetDefault("server.port", DefaultConfig.Server.Port)
	viper.SetDefault("server.bind_address", DefaultConfig.Server.BindAddress)
	viper.SetDefault("server.max_agents", DefaultConfig.Server.MaxAgents)
	viper.SetDefault("server.ssh_host_key_path", DefaultConfig.Server.SSHHostKeyPath)
	viper.SetDefault("server.ssh_whitelist", DefaultConfig.Server.SSHWhitelist)
	viper.SetDefault("server.ssh_whitelist_only", DefaultConfig.Server.SSHWhitelistOnly)

	viper.SetDefault("logging.file_logging", DefaultConfig.Logging.FileLogging)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal config
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		// If we can't create it (e.g., /etc/waygate needs sudo), provide helpful message
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// For daemons running as root, prefer system config
	if os.Getuid() == 0 || os.Getenv("SUDO_USER") != "" {
		return "/etc/waygate/waygate.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/waygate/waygate.toml"
	}

	return filepath.Join(home, ".config", "waygate", "waygate.toml")
}

// AddSSHKeyToWhitelist adds an SSH key fingerprint to the whitelist
func AddSSHKeyToWhitelist(fingerprint string) error {
	cfg := Get()

	for _, fp := range cfg.Server.SSHWhitelist {
		if fp == fingerprint {
			return fmt.Errorf("key already whitelisted")
		}
	}

	cfg.Server.SSHWhitelist = append(cfg.Server.SSHWhitelist, fingerprint)
	viper.Set("server.ssh_whitelist", cfg.Server.SSHWhitelist)
	return Save()
}

// RemoveSSHKeyFromWhitelist removes an SSH key fingerprint from the whitelist
func RemoveSSHKeyFromWhitelist(fingerprint string) error {
	cfg := Get()

	for i, fp := range cfg.Server.SSHWhitelist {
		if fp == fingerprint {
			cfg.Server.SSHWhitelist = append(cfg.Server.SSHWhitelist[:i], cfg.Server.SSHWhitelist[i+1:]...)
			viper.Set("server.ssh_whitelist", cfg.Server.SSHWhitelist)
			return Save()
		}
	}

	return fmt.Errorf("key not found in whitelist")
}

// IsSSHKeyWhitelisted checks if an SSH key fingerprint is whitelisted
func IsSSHKeyWhitelisted(fingerprint string) bool {
	cfg := Get()

	for _, fp := range cfg.Server.SSHWhitelist {
		if fp == fingerprint {
			return true
		}
	}

	return false
}
