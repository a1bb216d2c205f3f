package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerURL      string
	DBFile         string
	UserID         string
	MaxAttempts    int
	AckTimeout     time.Duration
	HealthTimeout  time.Duration
	SnapshotTTL    time.Duration
	PushSubscriber string
	VAPIDPublic    string
	VAPIDPrivate   string
}

func Load() (*Config, error) {
	ackTimeout, err := time.ParseDuration(getEnv("ACK_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}
	healthTimeout, err := time.ParseDuration(getEnv("HEALTH_TIMEOUT", "5s"))
	if err != nil {
		return nil, err
	}
	snapshotTTL, err := time.ParseDuration(getEnv("SNAPSHOT_TTL", "1m"))
	if err != nil {
		return nil, err
	}
	maxAttempts, err := strconv.Atoi(getEnv("MAX_CONNECTION_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("MAX_CONNECTION_ATTEMPTS must be an integer: %w", err)
	}

	cfg := &Config{
		ServerURL:      getEnv("SERVER_URL", "http://localhost:8080/rt"),
		DBFile:         getEnv("TRADEWIRE_DB", "tradewire.db"),
		UserID:         os.Getenv("USER_ID"),
		MaxAttempts:    maxAttempts,
		AckTimeout:     ackTimeout,
		HealthTimeout:  healthTimeout,
		SnapshotTTL:    snapshotTTL,
		PushSubscriber: getEnv("PUSH_SUBSCRIBER", "mailto:ops@tradewire.local"),
		VAPIDPublic:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivate:   os.Getenv("VAPID_PRIVATE_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_CONNECTION_ATTEMPTS must be greater than 0")
	}
	if c.AckTimeout <= 0 || c.HealthTimeout <= 0 {
		return fmt.Errorf("timeouts must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
