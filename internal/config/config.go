// Package config provides environment configuration for the chat client
// and the development server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Client settings
	APIBaseURL        string
	SocketURL         string
	StreamIdleTimeout time.Duration
	MetricsAddr       string

	// Realtime transport settings
	WSBaseDelay   time.Duration
	WSMaxAttempts int
	WSEventBuffer int

	// Devserver settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	FragmentDelay      time.Duration
	OverlapEvery       int

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings (devserver generator)
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Client
		APIBaseURL:        getEnv("API_BASE_URL", "http://127.0.0.1:5001"),
		SocketURL:         getEnv("SOCKET_URL", "ws://127.0.0.1:5001/ws"),
		StreamIdleTimeout: getDurationEnv("STREAM_IDLE_TIMEOUT", 3*time.Minute),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),

		// Realtime transport
		WSBaseDelay:   getDurationEnv("WS_RECONNECT_BASE_DELAY", time.Second),
		WSMaxAttempts: getIntEnv("WS_MAX_RECONNECT_ATTEMPTS", 3),
		WSEventBuffer: getIntEnv("WS_EVENT_BUFFER", 256),

		// Devserver
		ServerPort:         getEnv("PORT", "5001"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		FragmentDelay:      getDurationEnv("FRAGMENT_DELAY", 40*time.Millisecond),
		OverlapEvery:       getIntEnv("OVERLAP_EVERY", 5),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 12*time.Hour),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
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
