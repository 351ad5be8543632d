// Package config loads the daemon's bootstrap settings from defaults, an
// optional TOML file and KEEPER_* environment variables, in increasing
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const envPrefix = "keeper"

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DataDir     string `mapstructure:"data_dir"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	NATSURL     string `mapstructure:"nats_url"`
	MQTTBroker  string `mapstructure:"mqtt_broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

func defaults() map[string]any {
	return map[string]any{
		"http_addr":    "127.0.0.1:8080",
		"data_dir":     defaultDataDir(),
		"log_level":    "info",
		"log_file":     "",
		"nats_url":     "",
		"mqtt_broker":  "",
		"topic_prefix": "keeper",
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "keeper")
	}
	return ".keeper"
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	for key, def := range defaults() {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
		v.SetDefault(key, def)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("data_dir must not be empty")
	}
	return cfg, nil
}
