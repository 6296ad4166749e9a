// Package config loads bulletind settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config holds all configuration for the server.
type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	Env  string `env:"ENV,default=development" validate:"oneof=development production test"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json text"`

	// Storage
	Store           string        `env:"STORE,default=memory" validate:"oneof=memory mongo postgres"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=10s" validate:"gt=0"`
	MongoURI        string        `env:"MONGO_URI" validate:"required_if=Store mongo"`
	MongoDatabase   string        `env:"MONGO_DATABASE,default=bulletin"`
	MongoCollection string        `env:"MONGO_COLLECTION,default=messages"`
	DatabaseURL     string        `env:"DATABASE_URL" validate:"required_if=Store postgres"`
	PostgresTable   string        `env:"POSTGRES_TABLE,default=messages"`

	// Redis backs the identity cache and, optionally, event delivery.
	RedisURL     string        `env:"REDIS_URL" validate:"required_if=CacheEnabled true,required_if=EventsRedis true"`
	CacheEnabled bool          `env:"CACHE_ENABLED,default=false"`
	CacheTTL     time.Duration `env:"CACHE_TTL,default=10m" validate:"gt=0"`
	EventsRedis  bool          `env:"EVENTS_REDIS,default=false"`

	// Service
	MaxConcurrentWrites int           `env:"MAX_CONCURRENT_WRITES,default=10" validate:"min=1"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s" validate:"gte=1s"`
	ConnectAttempts     int           `env:"CONNECT_ATTEMPTS,default=5" validate:"min=1"`
	OTelEnabled         bool          `env:"OTEL_ENABLED,default=false"`

	// HTTP
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"` // separated by "|"
}

var validate = validator.New()

// Load reads configuration from the process environment, after loading a
// .env file from the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet builds and validates a Config from es.
func FromEnvSet(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
