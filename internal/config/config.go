// This file defines the configuration structure for the application.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	Repositories struct {
		UseJsdelivr   bool   `mapstructure:"use_jsdelivr"`
		ShortLinkHost string `mapstructure:"short_link_host"`
		HTTPTimeout   int    `mapstructure:"http_timeout"` // seconds, 0 disables
	} `mapstructure:"repositories"`
	Plugins struct {
		AutoUpdateInterval int  `mapstructure:"auto_update_interval"` // minutes, 0 disables
		InstallConcurrency int  `mapstructure:"install_concurrency"`
		TempArchiveMaxAge  int  `mapstructure:"temp_archive_max_age"` // hours
		WatchLocal         bool `mapstructure:"watch_local"`
	} `mapstructure:"plugins"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	// STREAM_DATABASE_PATH overrides `database.path`, and so on.
	v.SetEnvPrefix("STREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("database.path", "./data/stream.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("repositories.use_jsdelivr", false)
	v.SetDefault("repositories.short_link_host", "https://cutt.ly")
	v.SetDefault("repositories.http_timeout", 60)
	v.SetDefault("plugins.auto_update_interval", 0)
	v.SetDefault("plugins.install_concurrency", 4)
	v.SetDefault("plugins.temp_archive_max_age", 24)
	v.SetDefault("plugins.watch_local", false)
}
