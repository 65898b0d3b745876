package config

import (
	"os"
	"strconv"
)

// Config holds the deployment-level configuration contract consumed by
// the signing core. Everything here is environment-supplied; services
// receive it by reference at construction, never via package globals.
type Config struct {
	Port     string
	LogLevel string

	// Ceremony
	TokenTTLHours         int
	ReminderIntervalHours int

	// Retention
	RetentionDays int

	// Encrypted document store
	Passphrase string // operator-supplied, never logged
	KeySalt    string

	// Sealing
	CertPath    string
	KeyPath     string
	QESProvider string // "swisscom", "namirial" or "" (QES unavailable)

	// Ledger / storage backends
	LedgerBackend string // "memory", "sqlite", "postgres"
	DatabaseURL   string
	RedisAddr     string

	// Telemetry
	OTLPEndpoint string
}

// Load loads configuration from environment variables with safe defaults.
func Load() *Config {
	return &Config{
		Port:                  envOr("PORT", "8080"),
		LogLevel:              envOr("LOG_LEVEL", "INFO"),
		TokenTTLHours:         envIntOr("SIGNING_TOKEN_TTL_HOURS", 72),
		ReminderIntervalHours: envIntOr("REMINDER_INTERVAL_HOURS", 24),
		RetentionDays:         envIntOr("RETENTION_PERIOD_DAYS", 2555), // ~7 years
		Passphrase:            os.Getenv("SIGNET_PASSPHRASE"),
		KeySalt:               envOr("SIGNET_KEY_SALT", "signet-document-store-v1"),
		CertPath:              envOr("SEAL_CERT_PATH", "data/keys/seal.crt"),
		KeyPath:               envOr("SEAL_KEY_PATH", "data/keys/seal.key"),
		QESProvider:           os.Getenv("QES_PROVIDER"),
		LedgerBackend:         envOr("LEDGER_BACKEND", "memory"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:          os.Getenv("OTLP_ENDPOINT"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
