// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/money"
)

// Config holds all application configuration.
type Config struct {
	Port      string
	Env       string // development, staging, production
	LogLevel  string
	LogFormat string // json or text

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL string
	AutoMigrate bool

	JWTSecret string
	TokenTTL  time.Duration

	// Risk scorer. Empty ScorerURL selects the local heuristic scorer.
	ScorerURL         string
	ScorerAPIKey      string
	ScorerModel       string
	ScorerTimeout     time.Duration
	ScorerMaxAttempts int
	HighRiskThreshold float64

	InitialBalance      decimal.Decimal
	DefaultDailyLimit   decimal.Decimal
	DefaultMonthlyLimit decimal.Decimal

	PendingTransferTimeout time.Duration

	RateLimitRPM int
	OTLPEndpoint string
	CORSOrigins  []string
}

const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "json"
	DefaultTokenTTL               = 24 * time.Hour
	DefaultScorerModel            = "gpt-4o-mini"
	DefaultScorerTimeout          = 10 * time.Second
	DefaultScorerMaxAttempts      = 2
	DefaultHighRiskThreshold      = 0.8
	DefaultInitialBalance         = "10000.00"
	DefaultDailyLimit             = "5000.00"
	DefaultMonthlyLimit           = "50000.00"
	DefaultPendingTransferTimeout = 2 * time.Minute
	DefaultRateLimitRPM           = 60
)

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AutoMigrate:            getEnvBool("AUTO_MIGRATE", true),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		TokenTTL:               getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
		ScorerURL:              os.Getenv("SCORER_URL"),
		ScorerAPIKey:           os.Getenv("SCORER_API_KEY"),
		ScorerModel:            getEnv("SCORER_MODEL", DefaultScorerModel),
		ScorerTimeout:          getEnvDuration("SCORER_TIMEOUT", DefaultScorerTimeout),
		ScorerMaxAttempts:      getEnvInt("SCORER_MAX_ATTEMPTS", DefaultScorerMaxAttempts),
		HighRiskThreshold:      getEnvFloat("HIGH_RISK_THRESHOLD", DefaultHighRiskThreshold),
		PendingTransferTimeout: getEnvDuration("PENDING_TRANSFER_TIMEOUT", DefaultPendingTransferTimeout),
		RateLimitRPM:           getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSOrigins:            splitList(getEnv("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.InitialBalance, err = getEnvMoney("INITIAL_BALANCE", DefaultInitialBalance); err != nil {
		return nil, err
	}
	if cfg.DefaultDailyLimit, err = getEnvMoney("DEFAULT_DAILY_LIMIT", DefaultDailyLimit); err != nil {
		return nil, err
	}
	if cfg.DefaultMonthlyLimit, err = getEnvMoney("DEFAULT_MONTHLY_LIMIT", DefaultMonthlyLimit); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		// Tokens from a previous dev process stop verifying after restart.
		cfg.JWTSecret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.HighRiskThreshold <= 0 || c.HighRiskThreshold > 1 {
		return fmt.Errorf("HIGH_RISK_THRESHOLD must be within (0, 1], got %v", c.HighRiskThreshold)
	}
	if c.ScorerTimeout <= 0 {
		return fmt.Errorf("SCORER_TIMEOUT must be positive")
	}
	if c.ScorerMaxAttempts < 1 {
		return fmt.Errorf("SCORER_MAX_ATTEMPTS must be at least 1")
	}
	if c.PendingTransferTimeout <= 0 {
		return fmt.Errorf("PENDING_TRANSFER_TIMEOUT must be positive")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

// IsDevelopment reports whether ENV is development.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvMoney(key, def string) (decimal.Decimal, error) {
	d, err := money.Parse(getEnv(key, def))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
