package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Keys         KeysConfig
	Usage        UsageConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"support-automation"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8001"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory stores.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	Output string `env:"LOG_OUTPUT" envDefault:"stdout"`
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET" envDefault:"dev-secret"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
	BcryptCost            int    `env:"AUTH_BCRYPT_COST" envDefault:"12"`
}

// KeysConfig controls the API key lifecycle.
type KeysConfig struct {
	DigestPepper  string        `env:"KEYS_DIGEST_PEPPER" envDefault:"dev-pepper"`
	SecretPrefix  string        `env:"KEYS_SECRET_PREFIX" envDefault:"sk_"`
	GraceWindow   time.Duration `env:"KEYS_GRACE_WINDOW" envDefault:"24h"`
	SweepInterval time.Duration `env:"KEYS_SWEEP_INTERVAL" envDefault:"1m"`
}

// UsageConfig controls usage aggregation and the daily request allowance.
type UsageConfig struct {
	DailyLimit    int64         `env:"USAGE_DAILY_LIMIT" envDefault:"1000"`
	CounterTTL    time.Duration `env:"USAGE_COUNTER_TTL" envDefault:"5m"`
	SnowflakeNode int64         `env:"USAGE_SNOWFLAKE_NODE" envDefault:"1"`
}

// NotificationConfig selects how escalations reach the support team.
type NotificationConfig struct {
	Mode           string        `env:"NOTIFY_MODE" envDefault:"log"`
	WebhookURL     string        `env:"NOTIFY_WEBHOOK_URL"`
	WebhookTimeout time.Duration `env:"NOTIFY_WEBHOOK_TIMEOUT" envDefault:"5s"`
	Queue          string        `env:"NOTIFY_QUEUE" envDefault:"notifications"`
	Concurrency    int           `env:"NOTIFY_WORKER_CONCURRENCY" envDefault:"4"`
}

// Notification modes.
const (
	NotifyModeLog     = "log"
	NotifyModeWebhook = "webhook"
	NotifyModeQueue   = "queue"
)

// Load reads configuration from the environment after applying envFile, if it exists.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	sections := []struct {
		name   string
		target any
	}{
		{"app", &cfg.App},
		{"postgres", &cfg.Postgres},
		{"redis", &cfg.Redis},
		{"logger", &cfg.Logger},
		{"auth", &cfg.Auth},
		{"keys", &cfg.Keys},
		{"usage", &cfg.Usage},
		{"notification", &cfg.Notification},
	}
	for _, section := range sections {
		if err := env.Parse(section.target); err != nil {
			return nil, fmt.Errorf("parsing %s config: %w", section.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Keys.GraceWindow < 0 {
		return fmt.Errorf("KEYS_GRACE_WINDOW must not be negative")
	}
	if strings.TrimSpace(c.Keys.DigestPepper) == "" {
		return fmt.Errorf("KEYS_DIGEST_PEPPER is required")
	}
	switch c.Notification.Mode {
	case NotifyModeLog:
	case NotifyModeWebhook:
		if c.Notification.WebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_MODE=webhook")
		}
	case NotifyModeQueue:
		if !c.Redis.Enabled {
			return fmt.Errorf("NOTIFY_MODE=queue requires REDIS_ENABLED=true")
		}
		if c.Notification.WebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when NOTIFY_MODE=queue")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_MODE %q", c.Notification.Mode)
	}
	return nil
}

// Development reports whether the service runs on a developer machine.
func (a AppConfig) Development() bool {
	switch strings.ToLower(a.Env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}
