package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Matching  MatchingConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig selects and parameterizes the storage backend
type StorageConfig struct {
	Type         string `mapstructure:"type"` // "memory" or "postgres"
	DSN          string `mapstructure:"dsn"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// IngestConfig holds scrape-ingestion configuration
type IngestConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

// MatchingConfig holds similarity thresholds and resolver sizing
type MatchingConfig struct {
	SearchThreshold   float64       `mapstructure:"search_threshold"`
	RelationThreshold float64       `mapstructure:"relation_threshold"`
	RelationWorkers   int           `mapstructure:"relation_workers"`
	RelationInterval  time.Duration `mapstructure:"relation_interval"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pricepulse/")

	// Environment variable settings
	v.SetEnvPrefix("PRICEPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.snapshot_path", "")

	// Ingest defaults
	v.SetDefault("ingest.workers", 3)
	v.SetDefault("ingest.queue_size", 64)

	// Matching defaults
	v.SetDefault("matching.search_threshold", 70.0)
	v.SetDefault("matching.relation_threshold", 0.7)
	v.SetDefault("matching.relation_workers", 4)
	v.SetDefault("matching.relation_interval", "0s") // 0 disables the in-process job

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Storage.Type != "memory" && config.Storage.Type != "postgres" {
		return fmt.Errorf("storage type must be 'memory' or 'postgres', got: %s", config.Storage.Type)
	}

	if config.Storage.Type == "postgres" && config.Storage.DSN == "" {
		return fmt.Errorf("postgres DSN is required when storage type is 'postgres' (set PRICEPULSE_STORAGE_DSN)")
	}

	if config.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive, got: %d", config.Ingest.Workers)
	}

	if config.Matching.SearchThreshold < 0 || config.Matching.SearchThreshold > 110 {
		return fmt.Errorf("search threshold must be within [0, 110], got: %v", config.Matching.SearchThreshold)
	}

	if config.Matching.RelationThreshold < 0 || config.Matching.RelationThreshold > 1 {
		return fmt.Errorf("relation threshold must be within [0, 1], got: %v", config.Matching.RelationThreshold)
	}

	return nil
}
