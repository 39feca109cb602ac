// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // balance hint cache (optional)

	// ReconcileInterval is how often balance hints are rebuilt from the
	// ledger while Redis is enabled. Zero disables the background run.
	ReconcileInterval time.Duration

	// Security
	AdminSecret        string
	CORSAllowedOrigins []string // empty allows any origin

	// Currencies
	BaseCurrency      string
	AllowedCurrencies []string // non-base display currencies

	// FX rate table
	FXSourceURL string // empty means the static development table
	FXTimeout   time.Duration

	// Notifications
	NotifyWebhookURL    string
	NotifyWebhookSecret string

	// Tracing
	OTLPEndpoint string

	// Development pricing seed, used when no settings table is available
	CreditUnitPrice      decimal.Decimal
	IndividualDiscount   decimal.Decimal
	OrganizationDiscount decimal.Decimal
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultBaseCurrency = "TWD"
	DefaultFXTimeout    = 5 * time.Second

	DefaultReconcileInterval = 15 * time.Minute
)

// DefaultAllowedCurrencies are the display currencies besides the base.
var DefaultAllowedCurrencies = []string{"USD", "EUR", "JPY", "CNY"}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		ReconcileInterval:    getEnvDuration("BALANCE_RECONCILE_INTERVAL", DefaultReconcileInterval),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", nil),
		BaseCurrency:         strings.ToUpper(getEnv("BASE_CURRENCY", DefaultBaseCurrency)),
		AllowedCurrencies:    upperAll(getEnvList("ALLOWED_CURRENCIES", DefaultAllowedCurrencies)),
		FXSourceURL:          os.Getenv("FX_SOURCE_URL"),
		FXTimeout:            getEnvDuration("FX_TIMEOUT", DefaultFXTimeout),
		NotifyWebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:  os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CreditUnitPrice:      getEnvDecimal("CREDIT_UNIT_PRICE", decimal.NewFromInt(100)),
		IndividualDiscount:   getEnvDecimal("INDIVIDUAL_DISCOUNT", decimal.Zero),
		OrganizationDiscount: getEnvDecimal("ORGANIZATION_DISCOUNT", decimal.Zero),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", c.BaseCurrency)
	}
	for _, code := range c.AllowedCurrencies {
		if len(code) != 3 {
			return fmt.Errorf("ALLOWED_CURRENCIES contains invalid code %q", code)
		}
	}

	if c.FXSourceURL != "" {
		u, err := url.Parse(c.FXSourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("FX_SOURCE_URL must be an http(s) URL")
		}
	}
	if c.FXTimeout <= 0 {
		return fmt.Errorf("FX_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("BALANCE_RECONCILE_INTERVAL must not be negative")
	}

	if c.NotifyWebhookURL != "" {
		u, err := url.Parse(c.NotifyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL must be an http(s) URL")
		}
	}

	if c.CreditUnitPrice.Sign() < 0 {
		return fmt.Errorf("CREDIT_UNIT_PRICE must not be negative")
	}
	if c.IndividualDiscount.Sign() < 0 || c.OrganizationDiscount.Sign() < 0 {
		return fmt.Errorf("discounts must not be negative")
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.FXSourceURL == "" {
			return fmt.Errorf("FX_SOURCE_URL is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func upperAll(items []string) []string {
	for i, s := range items {
		items[i] = strings.ToUpper(s)
	}
	return items
}
