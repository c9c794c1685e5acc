// Package config loads engine settings from a file and the environment.
// Environment variables use the MONGOTOY_ prefix and override file values,
// so MONGOTOY_DATABASE wins over the "database" key.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything needed to stand an engine up.
type Config struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	AppName        string        `mapstructure:"app_name"`
	LogLevel       string        `mapstructure:"log_level"`
	LogPath        string        `mapstructure:"log_path"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingOnConnect  bool          `mapstructure:"ping_on_connect"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("uri", "mongodb://localhost:27017")
	v.SetDefault("database", "")
	v.SetDefault("app_name", "mongotoy")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "")
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("ping_on_connect", true)
}

// Load reads the config file at path (yaml, toml or json by extension) and
// merges environment overrides. An empty path skips the file and uses
// defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("MONGOTOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
