// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	MetricsPort string
	Environment string

	// Database
	MongoURI string
	MongoDB  string
	RedisURL string

	// Security
	JWTSecret         string
	AccessTokenExpiry time.Duration

	// HTTP limits
	AllowedOrigins []string
	MaxBodySize    int64

	// REST rate limiting
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	AuthRateLimitMax     int
	ChatRateLimitMax     int

	// Realtime send throttle
	SocketThrottleWindow time.Duration
	SocketThrottleMax    int

	// Chat
	ChatMessageMaxLength int
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Database
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "hearsay"),
		RedisURL: getEnv("REDIS_URL", ""),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "your-super-secret-key-change-this-in-production"),
		AccessTokenExpiry: getEnvDuration("ACCESS_TOKEN_EXPIRY", "1h"),

		// HTTP limits
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "http://localhost:5173"),
		MaxBodySize:    int64(getEnvInt("MAX_BODY_SIZE", 1<<20)), // 1MB

		// REST rate limiting
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", "15m"),
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 300),
		AuthRateLimitMax:     getEnvInt("AUTH_RATE_LIMIT_MAX_REQUESTS", 20),
		ChatRateLimitMax:     getEnvInt("CHAT_RATE_LIMIT_MAX_REQUESTS", 240),

		// Realtime send throttle
		SocketThrottleWindow: getEnvDuration("SOCKET_RATE_LIMIT_WINDOW", "10s"),
		SocketThrottleMax:    getEnvInt("SOCKET_RATE_LIMIT_MAX_MESSAGES", 12),

		// Chat
		ChatMessageMaxLength: getEnvInt("CHAT_MESSAGE_MAX_LENGTH", 2000),
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWTSecret == "your-super-secret-key-change-this-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret must be changed for production")
	}

	if c.MongoURI == "" {
		return fmt.Errorf("Mongo URI is required")
	}

	if c.MongoDB == "" {
		return fmt.Errorf("Mongo database name is required")
	}

	if c.ChatMessageMaxLength < 1 {
		return fmt.Errorf("chat message max length must be positive")
	}

	if c.RateLimitMaxRequests < 1 || c.AuthRateLimitMax < 1 || c.ChatRateLimitMax < 1 {
		return fmt.Errorf("rate limiting values must be positive")
	}

	if c.SocketThrottleMax < 1 || c.SocketThrottleWindow <= 0 {
		return fmt.Errorf("socket throttle values must be positive")
	}

	if c.MaxBodySize < 1 {
		return fmt.Errorf("max body size must be positive")
	}

	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		// If parsing fails, try to parse the default
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvList gets a comma-separated list from environment with a default
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
