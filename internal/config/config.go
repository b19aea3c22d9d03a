// Package config loads the coordination service's settings from the
// environment, the same getEnv/getEnvInt pattern the donor KV store used,
// generalized to this service's option set (spec §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every externally configurable knob from spec §6.
type Config struct {
	ServerName string
	ServerPort string

	BackendURL     string
	ETCDCertFile   string
	ETCDKeyFile    string
	ETCDCAFile     string
	DialTimeout    time.Duration
	RequestTimeout time.Duration

	RootPrefix string

	SessionID string // explicit override; empty means synthesize <prefix>-<pid>

	DefaultLockTimeout time.Duration
	MaxLockTimeout     time.Duration
	HeartbeatTTL       time.Duration
	SessionRecordTTL   time.Duration

	ActiveThreshold    time.Duration
	IdleThreshold      time.Duration
	StaleThreshold     time.Duration
	AbandonedThreshold time.Duration

	ScanBatchSize int64

	LogLevel string
}

// FromEnv loads configuration from the environment, applying the defaults
// documented in spec §6, and rejects any threshold ordering other than
// strictly increasing (spec §4.4).
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerName: getEnv("SERVER_NAME", "coordinationd"),
		ServerPort: getEnv("SERVER_PORT", "8082"),

		BackendURL:     getEnv("BACKEND_URL", "localhost:2379"),
		ETCDCertFile:   getEnv("ETCD_CERT_FILE", ""),
		ETCDKeyFile:    getEnv("ETCD_KEY_FILE", ""),
		ETCDCAFile:     getEnv("ETCD_CA_FILE", ""),
		DialTimeout:    getEnvSeconds("ETCD_DIAL_TIMEOUT_SECONDS", 5),
		RequestTimeout: getEnvSeconds("BACKEND_REQUEST_TIMEOUT_SECONDS", 5),

		RootPrefix: getEnv("ROOT_PREFIX", "claude"),

		SessionID: getEnv("CLAUDE_SESSION_ID", ""),

		DefaultLockTimeout: getEnvSeconds("DEFAULT_LOCK_TIMEOUT", 300),
		MaxLockTimeout:     getEnvSeconds("MAX_LOCK_TIMEOUT", 24*3600),
		HeartbeatTTL:       getEnvSeconds("HEARTBEAT_TTL", 300),
		SessionRecordTTL:   getEnvSeconds("SESSION_RECORD_TTL", 30*24*3600),

		ActiveThreshold:    getEnvSeconds("ACTIVE_THRESHOLD", 300),
		IdleThreshold:      getEnvSeconds("IDLE_THRESHOLD", 3600),
		StaleThreshold:     getEnvSeconds("STALE_THRESHOLD", 14400),
		AbandonedThreshold: getEnvSeconds("ABANDONED_THRESHOLD", 86400),

		ScanBatchSize: int64(getEnvInt("SCAN_BATCH_SIZE", 256)),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// An explicitly set but empty ROOT_PREFIX is kept so validate rejects it
	// instead of silently falling back to the default.
	if v, ok := os.LookupEnv("ROOT_PREFIX"); ok {
		cfg.RootPrefix = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !(c.ActiveThreshold < c.IdleThreshold &&
		c.IdleThreshold < c.StaleThreshold &&
		c.StaleThreshold < c.AbandonedThreshold) {
		return fmt.Errorf("config: staleness thresholds must be strictly increasing, got active=%s idle=%s stale=%s abandoned=%s",
			c.ActiveThreshold, c.IdleThreshold, c.StaleThreshold, c.AbandonedThreshold)
	}
	if c.DefaultLockTimeout <= 0 {
		return fmt.Errorf("config: DEFAULT_LOCK_TIMEOUT must be positive")
	}
	if c.MaxLockTimeout < c.DefaultLockTimeout {
		return fmt.Errorf("config: MAX_LOCK_TIMEOUT must be >= DEFAULT_LOCK_TIMEOUT")
	}
	if strings.TrimSpace(c.RootPrefix) == "" {
		return fmt.Errorf("config: ROOT_PREFIX must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}
