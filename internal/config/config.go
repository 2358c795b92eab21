// Package config provides configuration management for perryd.
// It supports loading configuration from environment variables, the
// shared agent-config.json file in the config dir, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for perryd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Container ContainerConfig `mapstructure:"container"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig holds the RPC/HTTP listener configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`          // overridable by the literal WS_PORT env var
	ConfigDir     string `mapstructure:"configDir"`     // overridable by the literal WS_CONFIG_DIR env var
	PortRangeLow  int    `mapstructure:"portRangeLow"`  // reserved ssh forward range, default 2200
	PortRangeHigh int    `mapstructure:"portRangeHigh"` // default 2299
}

// ContainerConfig controls how the container driver shells out.
type ContainerConfig struct {
	Binary string `mapstructure:"binary"` // "docker" (default) or "podman"
}

// NATSConfig holds optional event bus configuration; an empty URL means
// perryd's internal eventbus falls back to an in-process implementation.
type NATSConfig struct {
	URL      string `mapstructure:"url"`
	ClientID string `mapstructure:"clientId"`
}

// AuthConfig holds the optional bearer-token auth configuration.
// An empty token disables auth entirely.
type AuthConfig struct {
	BearerToken string `mapstructure:"bearerToken"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SessionConfig controls agent session lifetime semantics.
type SessionConfig struct {
	// GraceSeconds is how long an orphaned session's adapter stays alive
	// after the last client disconnects before being disposed.
	GraceSeconds int `mapstructure:"graceSeconds"`
}

// detectDefaultLogFormat returns "json" for production-like environments
// and "text" for local/terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("PERRYD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultConfigDir returns ~/.perry, perryd's default on-disk state directory.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".perry"
	}
	return filepath.Join(home, ".perry")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7337)
	v.SetDefault("server.configDir", defaultConfigDir())
	v.SetDefault("server.portRangeLow", 2200)
	v.SetDefault("server.portRangeHigh", 2299)

	v.SetDefault("container.binary", "docker")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "perryd")

	v.SetDefault("auth.bearerToken", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("session.graceSeconds", 600)
}

// Load reads configuration from environment variables, an optional
// config.yaml, and defaults. Environment variables use the PERRYD_ prefix,
// with WS_CONFIG_DIR and WS_PORT honored verbatim for compatibility with
// existing client tooling.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified search path plus the
// usual defaults.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PERRYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// These two env vars are honored verbatim, without the PERRYD_ prefix
	// other settings use.
	_ = v.BindEnv("server.configDir", "WS_CONFIG_DIR")
	_ = v.BindEnv("server.port", "WS_PORT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/perryd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields are well formed.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.PortRangeLow <= 0 || cfg.Server.PortRangeHigh < cfg.Server.PortRangeLow {
		errs = append(errs, "server.portRangeLow/portRangeHigh must describe a non-empty range")
	}
	if cfg.Container.Binary == "" {
		errs = append(errs, "container.binary must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Session.GraceSeconds <= 0 {
		errs = append(errs, "session.graceSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
