package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// ConnectionString builds the postgres connection string for the store.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Username, d.Password, d.Name)
}

// AuthConfig holds authentication-related configuration for the ops API
type AuthConfig struct {
	JWTSecret string
}

// RedisConfig holds Redis settings for the ops API rate limiter.
// Redis is optional; with Enabled=false the rate limiter is bypassed.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	RPM      int
}

// JobsConfig holds intervals for the background schedulers
type JobsConfig struct {
	HoldReleaseInterval time.Duration
	AggregationInterval time.Duration
	CapsWatchInterval   time.Duration
	RetryWorkerInterval time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	if cfg.Auth.JWTSecret, err = requireEnv("JWT_SECRET"); err != nil {
		return nil, err
	}

	cfg.Redis.Enabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.Redis.Enabled {
		if cfg.Redis.Host, err = requireEnv("REDIS_HOST"); err != nil {
			return nil, err
		}
		cfg.Redis.Port = intEnv("REDIS_PORT", 6379)
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
		cfg.Redis.DB = intEnv("REDIS_DB", 0)
	}
	cfg.Redis.RPM = intEnv("OPS_RATE_LIMIT_RPM", 120)

	cfg.Jobs.HoldReleaseInterval = durationEnv("HOLD_RELEASE_INTERVAL", 5*time.Minute)
	cfg.Jobs.AggregationInterval = durationEnv("AGGREGATION_INTERVAL", time.Hour)
	cfg.Jobs.CapsWatchInterval = durationEnv("CAPS_WATCH_INTERVAL", time.Minute)
	cfg.Jobs.RetryWorkerInterval = durationEnv("POSTBACK_RETRY_INTERVAL", time.Minute)

	cfg.Server.Port = intEnv("PORT", 8080)

	return cfg, nil
}

// requireEnv returns the value of the environment variable or an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyEnvironmentVariable, key)
	}
	return value, nil
}

// intEnv returns the integer value of the environment variable or a fallback
func intEnv(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// durationEnv returns the duration value of the environment variable or a fallback
func durationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
