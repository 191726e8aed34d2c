package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints of the registration API.
const (
	DefaultTokenURL   = "https://auth.bizzabo.com/oauth/token"
	DefaultAudience   = "https://api.bizzabo.com/api"
	DefaultAPIBaseURL = "https://api.bizzabo.com/v1"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Credentials
	ClientID     string
	ClientSecret string
	AccountID    string
	EventID      string

	// Registration API
	TokenURL   string
	Audience   string
	APIBaseURL string

	// Dispatch
	Concurrency    int
	RequestTimeout time.Duration

	// Single-request helper
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Run history
	DatabaseURL string
	SQLitePath  string

	// Notifications
	RabbitMQURL string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "warn"),

		ClientID:     getEnv("BULKREG_CLIENT_ID", ""),
		ClientSecret: getEnv("BULKREG_CLIENT_SECRET", ""),
		AccountID:    getEnv("BULKREG_ACCOUNT_ID", ""),
		EventID:      getEnv("BULKREG_EVENT_ID", ""),

		TokenURL:   getEnv("BULKREG_TOKEN_URL", DefaultTokenURL),
		Audience:   getEnv("BULKREG_AUDIENCE", DefaultAudience),
		APIBaseURL: getEnv("BULKREG_API_BASE_URL", DefaultAPIBaseURL),

		Concurrency:    getIntEnv("BULKREG_CONCURRENCY", 25),
		RequestTimeout: getDurationEnv("BULKREG_REQUEST_TIMEOUT", 0),

		BreakerThreshold: uint32(getIntEnv("BULKREG_BREAKER_THRESHOLD", 5)),
		BreakerTimeout:   getDurationEnv("BULKREG_BREAKER_TIMEOUT", 30*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", defaultSQLitePath()),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// NotificationsEnabled reports whether run notifications go to a broker.
func (c *Config) NotificationsEnabled() bool {
	return c.RabbitMQURL != ""
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

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".bulkreg", "history.db")
	}
	return filepath.Join(home, ".bulkreg", "history.db")
}
