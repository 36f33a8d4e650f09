package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var required = map[string]string{
	"GUILD_ID":              "guild1",
	"DISCORD_CLIENT_ID":     "client",
	"DISCORD_CLIENT_SECRET": "secret",
	"DISCORD_REDIRECT":      "https://gate.example/callback",
	"DATABASE_URL":          "postgres://gate@localhost/gate?sslmode=disable",
}

func setRequired(t *testing.T, except ...string) {
	t.Helper()
	skip := map[string]bool{}
	for _, k := range except {
		skip[k] = true
	}
	for k, v := range required {
		if !skip[k] {
			t.Setenv(k, v)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "guild1", cfg.CommunityID)
	assert.True(t, cfg.UsesDefaultSecret())
	assert.Equal(t, 5*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "https://gate.example/callback", cfg.Discord.RedirectURL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.RiskOracle.URL)
	assert.Equal(t, "guildgate", cfg.Admin.JWTIssuer)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Admin.JWTSecret)
	assert.False(t, cfg.AdminEnabled())
	assert.False(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 30, cfg.RateLimit.Invite)
	assert.Equal(t, 10, cfg.RateLimit.Callback)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("API_SECRET", "prod-secret")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RISK_ORACLE_URL", "https://risk.example/score")
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "2s")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("RATE_LIMIT_CALLBACK", "3")
	t.Setenv("ADMIN_JWT_SECRET", "review-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.False(t, cfg.UsesDefaultSecret())
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://risk.example/score", cfg.RiskOracle.URL)
	assert.Equal(t, 2*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 3, cfg.RateLimit.Callback)
	assert.Equal(t, "review-key", cfg.Admin.JWTSecret)
	assert.True(t, cfg.AdminEnabled())
}

func TestAdminEnabled(t *testing.T) {
	tests := []struct {
		name        string
		apiSecret   string
		adminSecret string
		want        bool
	}{
		{"no admin secret", "prod-secret", "", false},
		{"default api secret", DefaultAPISecret, "review-key", false},
		{"both set", "prod-secret", "review-key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.APISecret = tt.apiSecret
			cfg.Admin.JWTSecret = tt.adminSecret
			assert.Equal(t, tt.want, cfg.AdminEnabled())
		})
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t, "GUILD_ID")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GUILD_ID")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "DATABASE_DRIVER"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"empty secret", func(c *Config) { c.APISecret = " " }, "API_SECRET"},
		{"zero timeout", func(c *Config) { c.ExternalCallTimeout = 0 }, "EXTERNAL_CALL_TIMEOUT"},
		{"zero state ttl", func(c *Config) { c.StateTTL = 0 }, "STATE_TTL"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"zero callback budget", func(c *Config) { c.RateLimit.Callback = 0 }, "RATE_LIMIT_CALLBACK"},
		{"admin secret reuses api secret", func(c *Config) { c.Admin.JWTSecret = c.APISecret }, "ADMIN_JWT_SECRET"},
		{"admin secret is the default", func(c *Config) { c.Admin.JWTSecret = DefaultAPISecret }, "ADMIN_JWT_SECRET"},
		{"brokers without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }, "KAFKA_TOPIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	valid := validConfig()
	assert.NoError(t, valid.Validate())

	disabled := validConfig()
	disabled.RateLimit = RateLimitConfig{Disabled: true}
	assert.NoError(t, disabled.Validate(), "budgets are ignored when limiting is off")
}

func validConfig() Config {
	return Config{
		Port:                8080,
		APISecret:           "secret",
		CommunityID:         "guild1",
		ExternalCallTimeout: time.Second,
		StateTTL:            time.Minute,
		Database:            DatabaseConfig{URL: "postgres://x", Driver: "postgres"},
		Kafka:               KafkaConfig{Topic: "t"},
		RateLimit:           RateLimitConfig{Invite: 30, Callback: 10, Window: time.Minute},
		Log:                 LogConfig{Level: "info", Format: "json"},
	}
}
