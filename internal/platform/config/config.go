// Package config loads process configuration from the environment. The
// result is immutable and passed explicitly; nothing reads the environment
// after startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// DefaultAPISecret is the development fallback shared with the community bot.
const DefaultAPISecret = "supersecret"

type Config struct {
	Port int `envconfig:"PORT" default:"8080"`
	// APISecret keys invitation, state and fingerprint MACs and admin tokens.
	APISecret   string `envconfig:"API_SECRET" default:"supersecret"`
	CommunityID string `envconfig:"GUILD_ID" required:"true"`

	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"5s"`
	StateTTL            time.Duration `envconfig:"STATE_TTL" default:"10m"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	Discord    DiscordConfig    `envconfig:"DISCORD"`
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Kafka      KafkaConfig      `envconfig:"KAFKA"`
	RiskOracle RiskOracleConfig `envconfig:"RISK_ORACLE"`
	Admin      AdminConfig      `envconfig:"ADMIN"`
	RateLimit  RateLimitConfig  `envconfig:"RATE_LIMIT"`
	Log        LogConfig        `envconfig:"LOG"`
}

type DiscordConfig struct {
	ClientID     string `envconfig:"CLIENT_ID" required:"true"`
	ClientSecret string `envconfig:"CLIENT_SECRET" required:"true"`
	RedirectURL  string `envconfig:"REDIRECT" required:"true"`
}

type DatabaseConfig struct {
	URL          string `envconfig:"URL" required:"true"`
	Driver       string `envconfig:"DRIVER" default:"postgres"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" default:"10"`
}

// RedisConfig enables the shared replay guard when URL is set.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig enables the outcome feed when Brokers is set.
type KafkaConfig struct {
	Brokers  []string `envconfig:"BROKERS"`
	Topic    string   `envconfig:"TOPIC" default:"guildgate.verification-outcomes"`
	ClientID string   `envconfig:"CLIENT_ID" default:"guildgate"`
}

// RiskOracleConfig selects the HTTP oracle when URL is set; otherwise the
// fixed-score stub is used.
type RiskOracleConfig struct {
	URL              string        `envconfig:"URL"`
	APIKey           string        `envconfig:"API_KEY"`
	FailureThreshold int           `envconfig:"FAILURE_THRESHOLD" default:"5"`
	Cooldown         time.Duration `envconfig:"COOLDOWN" default:"30s"`
}

// AdminConfig guards the review API. JWTSecret must be set, and differ from
// API_SECRET, before the API is mounted.
type AdminConfig struct {
	JWTSecret   string `envconfig:"JWT_SECRET"`
	JWTIssuer   string `envconfig:"JWT_ISSUER" default:"guildgate"`
	JWTAudience string `envconfig:"JWT_AUDIENCE" default:"guildgate-admin"`
}

// RateLimitConfig budgets requests per client address per window. Counters
// live in Redis when REDIS_URL is set.
type RateLimitConfig struct {
	Disabled bool          `envconfig:"DISABLED"`
	Invite   int           `envconfig:"INVITE" default:"30"`
	Callback int           `envconfig:"CALLBACK" default:"10"`
	Window   time.Duration `envconfig:"WINDOW" default:"1m"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if strings.TrimSpace(c.APISecret) == "" {
		errs = append(errs, errors.New("API_SECRET must not be empty"))
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not postgres or pgx", c.Database.Driver))
	}
	if c.ExternalCallTimeout <= 0 {
		errs = append(errs, errors.New("EXTERNAL_CALL_TIMEOUT must be positive"))
	}
	if c.StateTTL <= 0 {
		errs = append(errs, errors.New("STATE_TTL must be positive"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not json or text", c.Log.Format))
	}
	if !c.RateLimit.Disabled && (c.RateLimit.Invite <= 0 || c.RateLimit.Callback <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_INVITE, RATE_LIMIT_CALLBACK and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.Admin.JWTSecret != "" && (c.Admin.JWTSecret == c.APISecret || c.Admin.JWTSecret == DefaultAPISecret) {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET must differ from API_SECRET and the development default"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required with KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AdminEnabled reports whether the admin review API may be mounted. A
// deployment still on the development API_SECRET never exposes it.
func (c *Config) AdminEnabled() bool {
	return c.Admin.JWTSecret != "" && !c.UsesDefaultSecret()
}

// UsesDefaultSecret reports whether the development secret is in effect.
func (c *Config) UsesDefaultSecret() bool {
	return c.APISecret == DefaultAPISecret
}
