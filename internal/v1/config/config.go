package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret string

	// Listener ports (kept as strings, joined with ":" at bind time)
	HTTPPort      string
	TCPChatPort   string
	STUNPort      string
	DiscoveryPort string

	STUNEnabled      bool
	DiscoveryEnabled bool

	// Credential store
	DatabaseDSN string

	// Token + session lifetimes
	TokenTTL                 time.Duration
	VoiceSessionTimeout      time.Duration
	WhiteboardSessionTimeout time.Duration

	// File transfer
	DownloadsDir string

	// Optional distributed event bus
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Optional tracing
	OTelEnabled       bool
	OTelCollectorAddr string

	// Optional external IdP (JWKS) token validation
	JWKSDomain   string
	JWKSAudience string

	// Rate limits (ulule period syntax: count-unit)
	RateLimitGlobal string
	RateLimitAuth   string

	GoEnv           string
	LogLevel        string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Listener ports, all optional with defaults
	cfg.HTTPPort = getEnvOrDefault("HTTP_PORT", "8080")
	if !isValidPort(cfg.HTTPPort) {
		errors = append(errors, fmt.Sprintf("HTTP_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.HTTPPort))
	}
	cfg.TCPChatPort = getEnvOrDefault("TCP_CHAT_PORT", "8081")
	if !isValidPort(cfg.TCPChatPort) {
		errors = append(errors, fmt.Sprintf("TCP_CHAT_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.TCPChatPort))
	}
	cfg.STUNPort = getEnvOrDefault("STUN_PORT", "3478")
	if !isValidPort(cfg.STUNPort) {
		errors = append(errors, fmt.Sprintf("STUN_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.STUNPort))
	}
	cfg.DiscoveryPort = getEnvOrDefault("DISCOVERY_PORT", "9876")
	if !isValidPort(cfg.DiscoveryPort) {
		errors = append(errors, fmt.Sprintf("DISCOVERY_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.DiscoveryPort))
	}

	cfg.STUNEnabled = getEnvOrDefault("STUN_ENABLED", "true") == "true"
	cfg.DiscoveryEnabled = getEnvOrDefault("DISCOVERY_ENABLED", "true") == "true"

	// Credential store DSN. A postgres:// prefix selects the Postgres driver,
	// anything else is treated as a SQLite DSN.
	cfg.DatabaseDSN = getEnvOrDefault("DATABASE_DSN", "file:nexusconnect.db")

	// Lifetimes
	cfg.TokenTTL = parseDurationEnv("TOKEN_TTL", 24*time.Hour, &errors)
	cfg.VoiceSessionTimeout = parseDurationEnv("VOICE_SESSION_TIMEOUT", 30*time.Minute, &errors)
	cfg.WhiteboardSessionTimeout = parseDurationEnv("WHITEBOARD_SESSION_TIMEOUT", time.Hour, &errors)

	cfg.DownloadsDir = getEnvOrDefault("DOWNLOADS_DIR", "./nexus_downloads")

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			logging.Warn(nil, "REDIS_ADDR not set, using default", zap.String("addr", cfg.RedisAddr))
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Conditional: OTEL_COLLECTOR_ADDR (required if OTEL_ENABLED=true)
	cfg.OTelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OTelEnabled {
		cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OTelCollectorAddr == "" {
			errors = append(errors, "OTEL_COLLECTOR_ADDR is required when OTEL_ENABLED=true")
		} else if !isValidHostPort(cfg.OTelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OTelCollectorAddr))
		}
	}

	// Optional external IdP. Both values must be set together.
	cfg.JWKSDomain = os.Getenv("AUTH_JWKS_DOMAIN")
	cfg.JWKSAudience = os.Getenv("AUTH_JWKS_AUDIENCE")
	if (cfg.JWKSDomain == "") != (cfg.JWKSAudience == "") {
		errors = append(errors, "AUTH_JWKS_DOMAIN and AUTH_JWKS_AUDIENCE must be set together")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitGlobal = getEnvOrDefault("RATE_LIMIT_GLOBAL", "1000-M")
	cfg.RateLimitAuth = getEnvOrDefault("RATE_LIMIT_AUTH", "20-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidPort checks that a string holds a bindable port number.
func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	if !isValidPort(parts[1]) {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// parseDurationEnv reads a Go duration string from the environment, falling
// back to def when unset and recording a validation error when unparsable.
func parseDurationEnv(key string, def time.Duration, errors *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive Go duration like '30m' (got '%s')", key, raw))
		return def
	}
	return d
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	logging.Info(nil, "environment configuration validated",
		zap.String("jwt_secret", redactSecret(cfg.JWTSecret)),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("tcp_chat_port", cfg.TCPChatPort),
		zap.String("stun_port", cfg.STUNPort),
		zap.Bool("stun_enabled", cfg.STUNEnabled),
		zap.String("discovery_port", cfg.DiscoveryPort),
		zap.Bool("discovery_enabled", cfg.DiscoveryEnabled),
		zap.String("database_dsn", cfg.DatabaseDSN),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.Bool("otel_enabled", cfg.OTelEnabled),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("development_mode", cfg.DevelopmentMode),
		zap.String("rate_limit_global", cfg.RateLimitGlobal),
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
