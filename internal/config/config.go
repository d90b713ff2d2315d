// internal/config/config.go

// Package config loads the process bootstrap configuration. Only the handful
// of values needed before the settings store is open live here; everything
// tunable at runtime is stored in the database and managed over Telegram.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-level bootstrap configuration.
type Config struct {
	DBPath        string `mapstructure:"db_path"`
	TelegramToken string `mapstructure:"telegram_token"`
	LogLevel      string `mapstructure:"log_level"`
}

// Load reads config.yaml (if present) and the environment, with a .env file
// loaded first when one exists. Environment variables use the FORWARDMON_
// prefix, e.g. FORWARDMON_TELEGRAM_TOKEN.
func Load(path string) (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.SetDefault("db_path", "data/forwardmon.db")
	v.SetDefault("log_level", "info")
	// Env-only keys need a default registered for Unmarshal to see them.
	v.SetDefault("telegram_token", "")
	v.SetEnvPrefix("FORWARDMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("telegram_token is required (FORWARDMON_TELEGRAM_TOKEN)")
	}
	return &cfg, nil
}
