// Package config validates environment configuration at startup. Validation
// runs before the logger is initialized, so bootstrap messages go through
// slog.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// DatabaseURL is required outside dev mode. Empty in dev mode selects
	// the in-memory store.
	DatabaseURL    string
	MigrateOnStart bool

	// Optional variables with defaults
	GoEnv    string
	LogLevel string
	DevMode  bool

	// SkipAuth disables token verification on the websocket endpoint.
	// Only honored in dev mode.
	SkipAuth bool

	// OTelCollectorAddr enables tracing when set.
	OTelCollectorAddr string

	// LMS OAuth2 tenant, required outside dev mode.
	LMSDomain       string
	LMSClientID     string
	LMSClientSecret string
	LMSRedirectURL  string

	// Redis backs rate limiting when enabled.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	UIOrigin       string
	AllowedOrigins string
	SurveyURL      string

	// DefaultMaxSwapRequests seeds new sessions' re-swap quota.
	DefaultMaxSwapRequests int

	// Rate limits in ulule formatted notation (count-period).
	RateLimitAuth      string
	RateLimitAPIGlobal string
	RateLimitWsIP      string
	RateLimitWsUser    string
}

// ValidateEnv validates all required environment variables and returns a
// Config. It returns an error listing every problem found, not just the
// first.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var problems []string

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	// SKIP_AUTH never survives outside dev mode.
	skipAuth := os.Getenv("SKIP_AUTH") == "true"
	if skipAuth && !cfg.DevMode {
		problems = append(problems, "SKIP_AUTH=true requires DEV_MODE=true")
	}
	cfg.SkipAuth = skipAuth && cfg.DevMode

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		problems = append(problems, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		problems = append(problems, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			problems = append(problems, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required outside dev mode: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && !cfg.DevMode {
		problems = append(problems, "DATABASE_URL is required (set DEV_MODE=true to run on the in-memory store)")
	}
	cfg.MigrateOnStart = os.Getenv("DATABASE_MIGRATE") != "false"

	// Required outside dev mode: the LMS OAuth2 tenant
	cfg.LMSDomain = os.Getenv("LMS_DOMAIN")
	cfg.LMSClientID = os.Getenv("LMS_CLIENT_ID")
	cfg.LMSClientSecret = os.Getenv("LMS_CLIENT_SECRET")
	cfg.LMSRedirectURL = os.Getenv("LMS_REDIRECT_URL")
	if !cfg.DevMode {
		if cfg.LMSDomain == "" {
			problems = append(problems, "LMS_DOMAIN is required")
		}
		if cfg.LMSClientID == "" {
			problems = append(problems, "LMS_CLIENT_ID is required")
		}
		if cfg.LMSClientSecret == "" {
			problems = append(problems, "LMS_CLIENT_SECRET is required")
		}
		if cfg.LMSRedirectURL == "" {
			problems = append(problems, "LMS_REDIRECT_URL is required")
		}
	}

	// Conditional: REDIS_ADDR (used when REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			problems = append(problems, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional with defaults
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.UIOrigin = getEnvOrDefault("UI_ORIGIN", "http://localhost:3000")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.SurveyURL = os.Getenv("SURVEY_URL")

	// Optional: OTEL_COLLECTOR_ADDR (tracing disabled when unset)
	cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OTelCollectorAddr != "" && !isValidHostPort(cfg.OTelCollectorAddr) {
		problems = append(problems, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OTelCollectorAddr))
	}

	maxSwaps := getEnvOrDefault("MAX_SWAP_REQUESTS", "1")
	n, err := strconv.Atoi(maxSwaps)
	if err != nil || n < 0 {
		problems = append(problems, fmt.Sprintf("MAX_SWAP_REQUESTS must be a non-negative integer (got '%s')", maxSwaps))
	} else {
		cfg.DefaultMaxSwapRequests = n
	}

	// Rate limits (M = minute, H = hour)
	cfg.RateLimitAuth = getEnvOrDefault("RATE_LIMIT_AUTH", "20-M")
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(problems) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"database_configured", cfg.DatabaseURL != "",
		"migrate_on_start", cfg.MigrateOnStart,
		"lms_domain", cfg.LMSDomain,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"dev_mode", cfg.DevMode,
		"skip_auth", cfg.SkipAuth,
		"otel_collector_configured", cfg.OTelCollectorAddr != "",
		"ui_origin", cfg.UIOrigin,
		"default_max_swap_requests", cfg.DefaultMaxSwapRequests,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default
// value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
