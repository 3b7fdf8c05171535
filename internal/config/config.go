// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lotpool/internal/core/types"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Environment string
	Port        string
	LogLevel    string

	Storage     string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	JWTSecret     string
	WebhookSecret string

	// Redis (optional): progress cache and settlement lock
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ProgressCacheTTL time.Duration
	SettlementLock   time.Duration

	// Kafka (optional): outbox relay target
	KafkaBrokers     []string
	KafkaTopicEvents string
	KafkaClientID    string

	EngineMaxAttempts  int
	ReservationTTL     time.Duration
	IdempotencyEnabled bool
	IdempotencyTTL     time.Duration

	OutboxBatchSize      int
	OutboxPollInterval   time.Duration
	SettlementSweepEvery time.Duration

	ShippingBase    types.Money
	ShippingPerUnit types.Money

	// SeedFile is catalog data loaded at startup on the memory backend.
	SeedFile string

	// CORSAllowedOrigins for browser clients. Empty allows any origin outside production.
	CORSAllowedOrigins []string
}

// Load reads configuration, loading an optional .env file first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("APP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Storage:     strings.ToLower(getEnv("STORAGE", StoragePostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 5),

		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		ProgressCacheTTL: getEnvDuration("PROGRESS_CACHE_TTL", 5*time.Second),
		SettlementLock:   getEnvDuration("SETTLEMENT_LOCK_TTL", 30*time.Second),

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "lotpool.events"),
		KafkaClientID:    getEnv("KAFKA_CLIENT_ID", "lotpool"),

		EngineMaxAttempts:  getEnvInt("ENGINE_MAX_ATTEMPTS", 5),
		ReservationTTL:     getEnvDuration("RESERVATION_TTL", 0),
		IdempotencyEnabled: getEnv("IDEMPOTENCY_ENABLED", "false") == "true",
		IdempotencyTTL:     getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		OutboxBatchSize:      getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxPollInterval:   getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
		SettlementSweepEvery: getEnvDuration("SETTLEMENT_SWEEP_INTERVAL", time.Minute),

		SeedFile: os.Getenv("SEED_FILE"),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.ShippingBase, err = getEnvMoney("SHIPPING_BASE", "0"); err != nil {
		return nil, err
	}
	if cfg.ShippingPerUnit, err = getEnvMoney("SHIPPING_PER_UNIT", "0"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}
	if c.EngineMaxAttempts < 1 {
		return fmt.Errorf("ENGINE_MAX_ATTEMPTS must be >= 1, got %d", c.EngineMaxAttempts)
	}
	if c.ReservationTTL < 0 {
		return fmt.Errorf("RESERVATION_TTL must not be negative")
	}
	if c.IsProduction() && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvMoney(key, defaultValue string) (types.Money, error) {
	m, err := types.NewMoneyFromString(getEnv(key, defaultValue))
	if err != nil {
		return types.Money{}, fmt.Errorf("%s: %w", key, err)
	}
	return m, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
