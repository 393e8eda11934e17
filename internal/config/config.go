package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default. Values are read once at startup.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database; an empty URL keeps message records in memory.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// External provider
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// Dispatcher
	DispatchWorkers            int
	DispatchMaxMessages        int
	DispatchQueueInitialCap    int
	DispatchBurstFactor        int
	DispatchReportingEnabled   bool
	DispatchReportingPeriod    time.Duration
	DispatchBlockingTimeout    time.Duration
	DispatchOverloadLogEvery   time.Duration
	DispatchCriticalOnlyThresh int

	// Rate limiting: maximum deliveries per second per priority
	RateLimit int

	// Retry backoff durations: index 0 = first retry delay, etc.
	RetryBackoff  []time.Duration
	RetryInterval time.Duration
	MaxAttempts   int
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://webhook.site/your-uuid-here"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),

		DispatchWorkers:            getInt("DISPATCH_WORKERS", 15),
		DispatchMaxMessages:        getInt("DISPATCH_MAX_MESSAGES", 15000),
		DispatchQueueInitialCap:    getInt("DISPATCH_QUEUE_INITIAL_CAPACITY", 100),
		DispatchBurstFactor:        getInt("DISPATCH_BURST_FACTOR", 2),
		DispatchReportingEnabled:   getBool("DISPATCH_REPORTING_ENABLED", false),
		DispatchReportingPeriod:    time.Duration(getInt("DISPATCH_REPORTING_PERIOD_SECONDS", 30)) * time.Second,
		DispatchBlockingTimeout:    getDuration("DISPATCH_BLOCKING_TIMEOUT", 2*time.Second),
		DispatchOverloadLogEvery:   getDuration("DISPATCH_OVERLOAD_LOG_INTERVAL", 10*time.Second),
		DispatchCriticalOnlyThresh: getInt("DISPATCH_CRITICAL_ONLY_THRESHOLD", 0),

		RateLimit: getInt("RATE_LIMIT_PER_PRIORITY", 100),

		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 5*time.Second),
			getDuration("RETRY_BACKOFF_2", 30*time.Second),
			getDuration("RETRY_BACKOFF_3", 120*time.Second),
		},
		RetryInterval: getDuration("RETRY_INTERVAL", 10*time.Second),
		MaxAttempts:   getInt("MAX_DELIVERY_ATTEMPTS", 3),
	}

	if cfg.DispatchWorkers <= 0 {
		return nil, fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", cfg.DispatchWorkers)
	}
	if cfg.DispatchMaxMessages < cfg.DispatchWorkers {
		return nil, fmt.Errorf("DISPATCH_MAX_MESSAGES (%d) must be at least DISPATCH_WORKERS (%d)",
			cfg.DispatchMaxMessages, cfg.DispatchWorkers)
	}
	if cfg.DispatchBurstFactor < 1 {
		return nil, fmt.Errorf("DISPATCH_BURST_FACTOR must be at least 1, got %d", cfg.DispatchBurstFactor)
	}
	if cfg.DispatchReportingEnabled && cfg.DispatchReportingPeriod <= 0 {
		return nil, fmt.Errorf("DISPATCH_REPORTING_PERIOD_SECONDS must be positive when reporting is enabled")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
