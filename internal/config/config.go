package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource    string
	StoreDriver string
	Port        string
	Env         string

	BalanceCeiling     decimal.Decimal
	QRRequestTTL       time.Duration
	ExternalRequestTTL time.Duration
	LockTimeout        time.Duration

	JWTSecret      string
	AdminToken     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	RedisAddr          string
	RedisEventsChannel string
	KafkaBrokers       []string
	KafkaTopic         string
	RateLimitPerMinute int
	CORSOrigins        []string
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBSource:           os.Getenv("DB_SOURCE"),
		StoreDriver:        getEnv("STORE_DRIVER", DriverPostgres),
		Port:               getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisEventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "wallet_events"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "wallet.transactions"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
	}

	var err error
	if cfg.BalanceCeiling, err = decimal.NewFromString(getEnv("BALANCE_CEILING", "1000000")); err != nil {
		return nil, fmt.Errorf("BALANCE_CEILING: %w", err)
	}
	if !cfg.BalanceCeiling.IsPositive() {
		return nil, fmt.Errorf("BALANCE_CEILING must be positive")
	}
	if cfg.QRRequestTTL, err = durationEnv("QR_REQUEST_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ExternalRequestTTL, err = durationEnv("EXTERNAL_REQUEST_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = durationEnv("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "120")); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
