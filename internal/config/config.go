package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is loaded from the environment. Business tuning (thresholds,
// limits, retention) is configuration, not code.
type Config struct {
	AppEnv  string
	AppName string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	AppPort  string
	LogLevel string

	ClarifyThreshold  float64
	PendingTTLHours   int
	AuditLogCap       int
	RateSubmitMax     int
	RateQueryMax      int
	RateWindowSeconds int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		AppPort:       os.Getenv("APP_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "curator"
	}
	if cfg.RedisHost == "" {
		cfg.RedisHost = "localhost"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = ":8080"
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RedisMinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.RedisMaxRetries, err = intEnv("REDIS_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.PendingTTLHours, err = intEnv("PENDING_TTL_HOURS", 7*24); err != nil {
		return nil, err
	}
	if cfg.AuditLogCap, err = intEnv("AUDIT_LOG_CAP", 1000); err != nil {
		return nil, err
	}
	if cfg.RateSubmitMax, err = intEnv("RATE_SUBMIT_MAX", 10); err != nil {
		return nil, err
	}
	if cfg.RateQueryMax, err = intEnv("RATE_QUERY_MAX", 20); err != nil {
		return nil, err
	}
	if cfg.RateWindowSeconds, err = intEnv("RATE_WINDOW_SECONDS", 60); err != nil {
		return nil, err
	}

	cfg.ClarifyThreshold = 0.7
	if v := os.Getenv("CLARIFY_THRESHOLD"); v != "" {
		cfg.ClarifyThreshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CLARIFY_THRESHOLD: %w", err)
		}
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
