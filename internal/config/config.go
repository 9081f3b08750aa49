// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port               string
	DatabasePath       string
	JWTSecret          string
	TokenDuration      time.Duration
	RateLimitPerMinute int
	CORSAllowedOrigins []string
	TrustedProxies     []string

	// Real-time tuning
	SessionSendBuffer    int           // outbound queue depth per connection
	DispatcherBuffer     int           // domain event queue depth
	WriteTimeout         time.Duration // per-frame websocket write deadline
	PingInterval         time.Duration // websocket keepalive / SSE heartbeat
	MaxMessageBytes      int64         // inbound websocket frame cap
	ShutdownGracePeriod  time.Duration
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./taskpal.db"),
		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		TokenDuration:      getDurationEnv("TOKEN_DURATION", 24*time.Hour),
		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		TrustedProxies:     getStringSliceEnv("TRUSTED_PROXIES"),

		SessionSendBuffer:   getIntEnv("SESSION_SEND_BUFFER", 64),
		DispatcherBuffer:    getIntEnv("DISPATCHER_BUFFER", 256),
		WriteTimeout:        getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
		PingInterval:        getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
		MaxMessageBytes:     int64(getIntEnv("WS_MAX_MESSAGE_BYTES", 64*1024)),
		ShutdownGracePeriod: getDurationEnv("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
