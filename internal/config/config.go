// Package config loads service configuration from file and environment.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Feed     Feed     `mapstructure:"feed"`
	Game     Game     `mapstructure:"game"`
}

// Server holds the HTTP server configuration.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the PostgreSQL configuration. An empty URL selects the
// in-memory store (development only).
type Database struct {
	URL string `mapstructure:"url"`
}

// Redis holds the cache configuration. An empty URL disables the cache.
type Redis struct {
	URL        string `mapstructure:"url"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// Feed holds the price-feed poller configuration.
type Feed struct {
	Enabled         bool    `mapstructure:"enabled"`
	BaseURL         string  `mapstructure:"base_url"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	IntervalSeconds int     `mapstructure:"interval_seconds"`
}

// Game holds gameplay configuration.
type Game struct {
	// Assets is the global whitelist of tradable feed identifiers.
	Assets []string `mapstructure:"assets"`
}

// Load reads configuration from config.yml in path, with environment
// variables overriding file values (SERVER_PORT, DATABASE_URL, ...).
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Empty-string defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl_seconds", 30)
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.base_url", "")
	v.SetDefault("feed.rate_limit", 0.5)
	v.SetDefault("feed.rate_limit_burst", 1)
	v.SetDefault("feed.interval_seconds", 60)
	v.SetDefault("game.assets", []string{
		"bitcoin", "ethereum", "solana", "cardano", "dogecoin",
		"ripple", "polkadot", "litecoin", "chainlink", "avalanche-2",
	})

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}
	err := v.Unmarshal(&cfg)
	return cfg, err
}
