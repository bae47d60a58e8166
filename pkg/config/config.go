package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Startup configuration errors. They are fatal.
var (
	ErrMissingStripeKey          = errors.New("STRIPE_SECRET_KEY is required")
	ErrMissingWebhookSecret      = errors.New("STRIPE_WEBHOOK_SECRET is required to serve webhooks")
	ErrMissingDatabaseCredential = errors.New("DATABASE_URL and a database password are required (or SQLITE_PATH in development)")
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string
	Version  string
	HTTPAddr string

	// Relational store. DatabasePassword is the Postgres role password,
	// not a Supabase service-role JWT; it overrides a password in the URL.
	DatabaseURL      string
	DatabasePassword string
	SQLitePath       string

	// Processor
	StripeSecretKey     string
	StripeWebhookSecret string

	// Document store
	SanityProjectID  string
	SanityDataset    string
	SanityAPIToken   string
	SanityAPIVersion string

	// Redis backs the processed-event ledger.
	RedisURL       string
	EventClaimTTL  time.Duration
	EventRetention time.Duration

	// RabbitMQ receives reconciliation notifications.
	RabbitMQURL string

	// Circuit breakers around the processor and document store
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
}

// Load loads configuration from environment variables, reading a .env file
// first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Version:  getEnv("APP_VERSION", ""),
		HTTPAddr: getEnv("HTTP_ADDR", "0.0.0.0:8080"),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabasePassword: getEnv("DATABASE_PASSWORD", ""),
		SQLitePath:       getEnv("SQLITE_PATH", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		SanityProjectID:  getEnv("SANITY_PROJECT_ID", ""),
		SanityDataset:    getEnv("SANITY_DATASET", "production"),
		SanityAPIToken:   getEnv("SANITY_API_TOKEN", ""),
		SanityAPIVersion: getEnv("SANITY_API_VERSION", "2023-05-03"),

		RedisURL:       getEnv("REDIS_URL", ""),
		EventClaimTTL:  getDurationEnv("EVENT_CLAIM_TTL", 2*time.Minute),
		EventRetention: getDurationEnv("EVENT_RETENTION", 72*time.Hour),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerTimeout:          getDurationEnv("BREAKER_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// Validate reports every missing credential the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, ErrMissingStripeKey)
	}
	if !c.UsesPostgres() && !c.UsesSQLite() {
		errs = append(errs, ErrMissingDatabaseCredential)
	}
	return errors.Join(errs...)
}

// ValidateServe additionally requires the webhook signing secret.
func (c *Config) ValidateServe() error {
	err := c.Validate()
	if c.StripeWebhookSecret == "" {
		err = errors.Join(err, ErrMissingWebhookSecret)
	}
	return err
}

// UsesPostgres reports whether the hosted relational store is configured
// with a password, either in DATABASE_PASSWORD or embedded in the URL.
func (c *Config) UsesPostgres() bool {
	if c.DatabaseURL == "" {
		return false
	}
	if c.DatabasePassword != "" {
		return true
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || u.User == nil {
		return false
	}
	_, ok := u.User.Password()
	return ok
}

// UsesSQLite reports whether the local SQLite store is in use. It is only
// available in development and only when no hosted store is configured.
func (c *Config) UsesSQLite() bool {
	return !c.UsesPostgres() && c.IsDevelopment() && c.SQLitePath != ""
}

// HasDocumentStore reports whether mirror documents can be written.
func (c *Config) HasDocumentStore() bool {
	return c.SanityProjectID != "" && c.SanityDataset != "" && c.SanityAPIToken != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
