package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config holds all configuration for the application.
type Config struct {
	Addr          string
	Env           string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	MigrationsDir string
	AppBaseURL    string
	SupportEmail  string
	CORSOrigins   []string

	// Compliance policy
	SuspendThreshold      int
	ViolationExcerptLimit int
	StatusCacheTTL        time.Duration

	// Quote lifecycle
	RequestTTL           time.Duration
	PaymentWebhookSecret string

	// Outbox dispatcher
	OutboxInterval    time.Duration
	OutboxBatch       int
	OutboxMaxAttempts int

	// Bootstrap administrator, created on startup when both are set
	AdminEmail    string
	AdminPassword string

	SMTP SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          getEnv("API_ADDR", ":8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     getEnv("JWT_SECRET", defaultJWTSecret),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		AppBaseURL:    getEnv("APP_BASE_URL", "http://localhost:3000"),
		SupportEmail:  getEnv("SUPPORT_EMAIL", "support@quoteflow.local"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),

		SuspendThreshold:      getEnvInt("SUSPEND_THRESHOLD", 3),
		ViolationExcerptLimit: getEnvInt("VIOLATION_EXCERPT_LIMIT", 100),
		StatusCacheTTL:        time.Duration(getEnvInt("STATUS_CACHE_TTL_SECONDS", 30)) * time.Second,

		RequestTTL:           time.Duration(getEnvInt("REQUEST_TTL_DAYS", 30)) * 24 * time.Hour,
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		OutboxInterval:    time.Duration(getEnvInt("OUTBOX_INTERVAL_MS", 500)) * time.Millisecond,
		OutboxBatch:       getEnvInt("OUTBOX_BATCH", 25),
		OutboxMaxAttempts: getEnvInt("OUTBOX_MAX_ATTEMPTS", 5),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			FromName: getEnv("SMTP_FROM_NAME", "Quoteflow"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with. Production is held
// to a stricter bar.
func (c *Config) Validate() error {
	var errs []error
	if c.SuspendThreshold < 1 {
		errs = append(errs, errors.New("SUSPEND_THRESHOLD must be at least 1"))
	}
	if c.ViolationExcerptLimit < 1 {
		errs = append(errs, errors.New("VIOLATION_EXCERPT_LIMIT must be at least 1"))
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if c.JWTSecret == defaultJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if c.PaymentWebhookSecret == "" {
			errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET is required in production"))
		}
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
