// Package config loads Babble server configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel string

// LogFormat selects the logger's output encoding.
type LogFormat string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// Config holds every tunable of the Babble server.
//
// Tags:
//
//	env: environment variable name
//	envDefault: value applied when the variable is unset
type Config struct {
	// Network
	Port int `env:"BABBLE_PORT" envDefault:"1234"`

	// Stress testing (mirrors the original -r flag)
	RandomDelay bool `env:"BABBLE_RANDOM_DELAY" envDefault:"false"`

	// Concurrency shape
	NumShards     int `env:"BABBLE_PRODCONS_NB" envDefault:"4"`
	QueueCapacity int `env:"BABBLE_MAX_COMMANDS" envDefault:"128"`
	MaxClients    int `env:"BABBLE_MAX_CLIENT" envDefault:"1024"`

	// Business-layer bounds
	IDSize             int `env:"BABBLE_ID_SIZE" envDefault:"32"`
	PublicationSize    int `env:"BABBLE_PUBLICATION_SIZE" envDefault:"200"`
	MaxTimelineEntries int `env:"BABBLE_MAX_TIMELINE" envDefault:"1024"`

	// Operational safety valve (disabled by default)
	MaxDispatchPerSec int `env:"BABBLE_MAX_DISPATCH_RATE" envDefault:"0"`

	// Monitoring
	MetricsAddr string `env:"BABBLE_METRICS_ADDR" envDefault:":9100"`

	// Logging
	LogLevel  string `env:"BABBLE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BABBLE_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: environment variables > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configuration values that would make the server
// behave inconsistently with the concurrency contracts it promises.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("BABBLE_PORT must be 1-65535, got %d", c.Port)
	}
	if c.NumShards < 1 {
		return fmt.Errorf("BABBLE_PRODCONS_NB must be >= 1, got %d", c.NumShards)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("BABBLE_MAX_COMMANDS must be >= 1, got %d", c.QueueCapacity)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("BABBLE_MAX_CLIENT must be >= 1, got %d", c.MaxClients)
	}
	if c.IDSize < 1 {
		return fmt.Errorf("BABBLE_ID_SIZE must be >= 1, got %d", c.IDSize)
	}
	if c.PublicationSize < 1 {
		return fmt.Errorf("BABBLE_PUBLICATION_SIZE must be >= 1, got %d", c.PublicationSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("BABBLE_LOG_LEVEL must be one of debug, info, warn, error (got %s)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("BABBLE_LOG_FORMAT must be one of json, pretty (got %s)", c.LogFormat)
	}

	return nil
}

// Print writes a human-readable configuration dump to stdout, matching the
// teacher's startup banner.
func (c *Config) Print() {
	fmt.Println("=== Babble Server Configuration ===")
	fmt.Printf("Port:              %d\n", c.Port)
	fmt.Printf("Random delay:      %v\n", c.RandomDelay)
	fmt.Println("--- Concurrency ---")
	fmt.Printf("Shards:            %d\n", c.NumShards)
	fmt.Printf("Queue capacity:    %d\n", c.QueueCapacity)
	fmt.Printf("Max clients:       %d\n", c.MaxClients)
	fmt.Println("--- Business bounds ---")
	fmt.Printf("ID size:           %d\n", c.IDSize)
	fmt.Printf("Publication size:  %d\n", c.PublicationSize)
	fmt.Printf("Max timeline:      %d\n", c.MaxTimelineEntries)
	fmt.Println("--- Logging ---")
	fmt.Printf("Level:             %s\n", c.LogLevel)
	fmt.Printf("Format:            %s\n", c.LogFormat)
	fmt.Println("====================================")
}

// LogConfig logs the configuration using structured fields, the
// machine-readable counterpart to Print.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Int("port", c.Port).
		Bool("random_delay", c.RandomDelay).
		Int("num_shards", c.NumShards).
		Int("queue_capacity", c.QueueCapacity).
		Int("max_clients", c.MaxClients).
		Int("id_size", c.IDSize).
		Int("publication_size", c.PublicationSize).
		Int("max_timeline", c.MaxTimelineEntries).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("babble server configuration loaded")
}
