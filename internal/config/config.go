package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Signals   SignalsConfig   `yaml:"signals"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	WorkerCount  int           `yaml:"worker_count"`
	JobQueueSize int           `yaml:"job_queue_size"`
}

// StorageConfig selects and sizes the signal store backend
type StorageConfig struct {
	// Driver is either "postgres" or "memory"
	Driver string `yaml:"driver"`
	// Capacity bounds the memory store; oldest signals are evicted first
	Capacity int `yaml:"capacity"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	PoolSize        int           `yaml:"pool_size"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// KafkaConfig holds the downstream relay configuration
type KafkaConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Brokers  []string            `yaml:"brokers"`
	Topic    string              `yaml:"topic"`
	Producer KafkaProducerConfig `yaml:"producer"`
}

// KafkaProducerConfig holds Kafka producer tuning
type KafkaProducerConfig struct {
	RetryMax       int           `yaml:"retry_max"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	FlushFrequency time.Duration `yaml:"flush_frequency"`
	BatchSize      int           `yaml:"batch_size"`
}

// SignalsConfig holds defaults applied to incomplete signals
type SignalsConfig struct {
	DefaultStrength  float64 `yaml:"default_strength"`
	DefaultTimeframe string  `yaml:"default_timeframe"`
	DefaultSource    string  `yaml:"default_source"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// Load loads configuration from file. The PORT environment variable, when
// set, overrides the configured server port (deployment platforms inject it).
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT environment variable %q: %w", port, err)
		}
		config.Server.Port = p
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration with working defaults for every optional
// field. A memory-backed deployment needs no config file at all.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         10000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodySize:  1 << 20,
			WorkerCount:  4,
			JobQueueSize: 256,
		},
		Storage: StorageConfig{
			Driver:   "memory",
			Capacity: 50,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			PoolSize:        10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Topic:   "trading.signals",
			Producer: KafkaProducerConfig{
				RetryMax:       3,
				RetryBackoff:   100 * time.Millisecond,
				FlushFrequency: 100 * time.Millisecond,
				BatchSize:      100,
			},
		},
		Signals: SignalsConfig{
			DefaultStrength:  8.5,
			DefaultTimeframe: "5m",
			DefaultSource:    "unknown",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         200,
			CleanupInterval:   60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case "memory":
		if c.Storage.Capacity <= 0 {
			return fmt.Errorf("memory storage capacity must be positive, got %d", c.Storage.Capacity)
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for postgres storage")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required when the relay is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}

	if c.Signals.DefaultTimeframe == "" {
		return fmt.Errorf("default timeframe must not be empty")
	}

	return nil
}
