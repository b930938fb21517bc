// Package config reads the service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/notify"
)

// Config holds all configuration for the ledger service.
type Config struct {
	Environment string
	Addr        string
	DBPath      string
	CatalogPath string

	// Empty RedisURL disables the Redis notifier; events are only logged.
	RedisURL   string
	NotifyList string

	Settlement    ledger.SettlementPolicy
	QuoteValidity time.Duration

	// Zero SweepInterval disables the periodic late-fee sweep.
	SweepInterval    time.Duration
	SweepConcurrency int
}

// Load applies the given .env files (".env" when none are named), skipping
// missing ones, and then reads the environment. Variables already set in the
// environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from environment variables.
func FromEnv() (*Config, error) {
	settlement, err := ledger.ParseSettlementPolicy(os.Getenv("LEDGER_SETTLEMENT_POLICY"))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_SETTLEMENT_POLICY: %w", err)
	}
	quoteValidity, err := getEnvAsDuration("LEDGER_QUOTE_VALIDITY", ledger.DefaultQuoteValidity)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvAsDuration("LEDGER_SWEEP_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	sweepConcurrency, err := getEnvAsInt("LEDGER_SWEEP_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:      getEnv("LEDGER_ENV", "development"),
		Addr:             getEnv("LEDGER_ADDR", ":8080"),
		DBPath:           getEnv("LEDGER_DB_PATH", "loanledger.db"),
		CatalogPath:      getEnv("LEDGER_CATALOG_PATH", "catalog.toml"),
		RedisURL:         os.Getenv("LEDGER_REDIS_URL"),
		NotifyList:       getEnv("LEDGER_NOTIFY_LIST", notify.DefaultList),
		Settlement:       settlement,
		QuoteValidity:    quoteValidity,
		SweepInterval:    sweepInterval,
		SweepConcurrency: sweepConcurrency,
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch {
	case c.Environment != "development" && c.Environment != "production":
		return fmt.Errorf("LEDGER_ENV must be development or production, got %q", c.Environment)
	case c.QuoteValidity <= 0:
		return fmt.Errorf("LEDGER_QUOTE_VALIDITY must be positive")
	case c.SweepInterval < 0:
		return fmt.Errorf("LEDGER_SWEEP_INTERVAL must not be negative")
	case c.SweepConcurrency <= 0:
		return fmt.Errorf("LEDGER_SWEEP_CONCURRENCY must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
