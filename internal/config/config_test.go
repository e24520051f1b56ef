package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultTokenTTL, cfg.TokenTTL)
	assert.Equal(t, DefaultHighRiskThreshold, cfg.HighRiskThreshold)
	assert.Equal(t, "10000", cfg.InitialBalance.String())
	assert.Equal(t, "5000", cfg.DefaultDailyLimit.String())
	assert.True(t, cfg.AutoMigrate)
	assert.NotEmpty(t, cfg.JWTSecret, "development gets a fallback secret")
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("HIGH_RISK_THRESHOLD", "0.65")
	t.Setenv("INITIAL_BALANCE", "250.50")
	t.Setenv("SCORER_MAX_ATTEMPTS", "4")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 0.65, cfg.HighRiskThreshold)
	assert.Equal(t, "250.5", cfg.InitialBalance.String())
	assert.Equal(t, 4, cfg.ScorerMaxAttempts)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_BadMoney(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "12.345")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INITIAL_BALANCE")
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "short")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = Load()
	require.NoError(t, err)
}

func TestValidate_Ranges(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:              "x",
			TokenTTL:               time.Hour,
			HighRiskThreshold:      0.8,
			ScorerTimeout:          time.Second,
			ScorerMaxAttempts:      1,
			PendingTransferTimeout: time.Minute,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.HighRiskThreshold = 1.5 }},
		{"threshold zero", func(c *Config) { c.HighRiskThreshold = 0 }},
		{"zero attempts", func(c *Config) { c.ScorerMaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.ScorerTimeout = 0 }},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }},
		{"negative rpm", func(c *Config) { c.RateLimitRPM = -1 }},
		{"no secret", func(c *Config) { c.JWTSecret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"*"}, splitList("*"))
	assert.Nil(t, splitList(" , "))
}
