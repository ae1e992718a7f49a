// Package config provides environment configuration for the sync engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the sync engine and tooling.
type Config struct {
	// Backend endpoints
	BackendWSURL   string
	BackendAPIURL  string
	BackendToken   string
	ConversationID string

	// Connection settings
	DialTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// NATS relay (optional; empty URL disables the relay)
	NATSURL   string
	NATSToken string

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Dev backend
	DevListenAddr        string
	DevJWTSecret         string
	DevRateLimitRequests int
	DevRateLimitWindow   time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		BackendWSURL:   getEnv("BACKEND_WS_URL", "ws://localhost:8080/api/v1/conversations"),
		BackendAPIURL:  getEnv("BACKEND_API_URL", "http://localhost:8080/api/v1"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		ConversationID: getEnv("CONVERSATION_ID", ""),

		// Connection
		DialTimeout:    getDurationEnv("DIAL_TIMEOUT", 10*time.Second),
		BackoffInitial: getDurationEnv("BACKOFF_INITIAL", 500*time.Millisecond),
		BackoffMax:     getDurationEnv("BACKOFF_MAX", 30*time.Second),

		// NATS relay
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// Metrics
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		// Dev backend
		DevListenAddr:        getEnv("DEV_LISTEN_ADDR", ":8080"),
		DevJWTSecret:         getEnv("DEV_JWT_SECRET", ""),
		DevRateLimitRequests: getIntEnv("DEV_RATE_LIMIT_REQUESTS", 120),
		DevRateLimitWindow:   getDurationEnv("DEV_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
