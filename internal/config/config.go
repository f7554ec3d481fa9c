// This file defines the configuration structure for the application.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Output struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"output"`
	Download struct {
		Concurrency       int           `mapstructure:"concurrency"`
		MaxAttempts       int           `mapstructure:"max_attempts"`
		Timeout           time.Duration `mapstructure:"timeout"`
		RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
		RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
		BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
		RetryJitterMax    time.Duration `mapstructure:"retry_jitter_max"`
		UserAgent         string        `mapstructure:"user_agent"`
		Project           string        `mapstructure:"project"`
		CookieFile        string        `mapstructure:"cookie_file"`
	} `mapstructure:"download"`
	RateLimit struct {
		DefaultDelay time.Duration `mapstructure:"default_delay"`
		JitterMax    time.Duration `mapstructure:"jitter_max"`
	} `mapstructure:"ratelimit"`
	Robots struct {
		Enabled  bool          `mapstructure:"enabled"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"robots"`
	History struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"history"`
	Sidecar struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sidecar"`
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Schedule struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"schedule"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Load reads configuration from "config.yml" in the current directory and
// unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path. An empty path searches the current
// directory for config.yml; a missing file there is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // name of config file (without extension)
		v.SetConfigType("yml")
		v.AddConfigPath(".")
	}

	// CITEFETCH_DOWNLOAD_CONCURRENCY overrides download.concurrency, and so on.
	v.SetEnvPrefix("CITEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
		// Config file not found; use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./citefetch.db")
	v.SetDefault("output.dir", "./downloads")

	v.SetDefault("download.concurrency", 4)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.timeout", 60*time.Second)
	v.SetDefault("download.retry_base_delay", 2*time.Second)
	v.SetDefault("download.retry_max_delay", 60*time.Second)
	v.SetDefault("download.backoff_multiplier", 2.0)
	v.SetDefault("download.retry_jitter_max", 500*time.Millisecond)
	v.SetDefault("download.user_agent", "citefetch/1.0")
	v.SetDefault("download.project", "")
	v.SetDefault("download.cookie_file", "")

	v.SetDefault("ratelimit.default_delay", time.Second)
	v.SetDefault("ratelimit.jitter_max", 250*time.Millisecond)

	v.SetDefault("robots.enabled", true)
	v.SetDefault("robots.cache_ttl", 24*time.Hour)
	v.SetDefault("history.enabled", true)
	v.SetDefault("sidecar.enabled", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.interval", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
