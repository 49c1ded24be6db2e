// Package config loads CLI settings from file, environment, and flags. The
// loaded struct is handed to constructors explicitly; nothing reads it
// ambiently.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName   = "apiweave"
	EnvPrefix = "APIWEAVE"
)

type Config struct {
	Endpoint     string        `mapstructure:"endpoint"`
	LogStreamURL string        `mapstructure:"log_stream_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DraftDB      string        `mapstructure:"draft_db"`
	LogLevel     string        `mapstructure:"log_level"`
}

func defaultDraftDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return AppName + ".db"
	}
	return filepath.Join(dir, AppName, "drafts.db")
}

// Load reads the config file (explicit path or the default locations), then
// layers environment variables on top.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("draft_db", defaultDraftDB())
	v.SetDefault("log_level", "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; env and flags may carry everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required (set %s_ENDPOINT or the config file)", EnvPrefix)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (set %s_API_KEY or the config file)", EnvPrefix)
	}
	return nil
}
