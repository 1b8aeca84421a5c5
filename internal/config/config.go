// Package config loads engine configuration from file, environment, and
// defaults, in that precedence order reversed.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BackendConfig describes the agent CLI subprocess.
type BackendConfig struct {
	// Command is the agent binary to spawn per session.
	Command string `mapstructure:"command"`
	// Args are extra arguments placed before the engine-managed flags.
	Args []string `mapstructure:"args"`
	// Model is the default model when a session request names none.
	Model string `mapstructure:"model"`
}

type StoreConfig struct {
	// Enabled turns session metadata persistence on.
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

type LogConfig struct {
	// Level is zap's level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// Load reads tandem.yaml from the working directory or /etc/tandem, applies
// TANDEM_* environment overrides, and fills defaults. A missing config file
// is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8083)
	v.SetDefault("backend.command", "claude")
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "tandem.db")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tandem")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tandem")
	}

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "decode config", err)
	}
	return &cfg, nil
}
