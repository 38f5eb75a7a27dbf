package config

import (
	"os"
	"strings"
	"testing"
)

var managedVars = []string{
	"JWT_SECRET", "PORT", "DATABASE_URL", "DATABASE_MIGRATE", "DEV_MODE", "SKIP_AUTH",
	"LMS_DOMAIN", "LMS_CLIENT_ID", "LMS_CLIENT_SECRET", "LMS_REDIRECT_URL",
	"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
	"GO_ENV", "LOG_LEVEL", "UI_ORIGIN", "ALLOWED_ORIGINS", "SURVEY_URL",
	"MAX_SWAP_REQUESTS", "OTEL_COLLECTOR_ADDR",
	"RATE_LIMIT_AUTH", "RATE_LIMIT_API_GLOBAL", "RATE_LIMIT_WS_IP", "RATE_LIMIT_WS_USER",
}

// setupTestEnv clears every variable ValidateEnv reads and restores the
// originals on cleanup.
func setupTestEnv(t *testing.T) {
	t.Helper()
	orig := map[string]string{}
	for _, key := range managedVars {
		orig[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, val := range orig {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func setProdBaseline(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DATABASE_URL", "postgres://thoughtswap:pw@localhost:5432/thoughtswap")
	os.Setenv("LMS_DOMAIN", "lms.school.edu")
	os.Setenv("LMS_CLIENT_ID", "thoughtswap-web")
	os.Setenv("LMS_CLIENT_SECRET", "client-secret")
	os.Setenv("LMS_REDIRECT_URL", "https://app.school.edu/auth/callback")
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.UIOrigin != "http://localhost:3000" {
		t.Errorf("Expected UI_ORIGIN default, got '%s'", cfg.UIOrigin)
	}
	if !cfg.MigrateOnStart {
		t.Error("Expected DATABASE_MIGRATE to default to enabled")
	}
	if cfg.DefaultMaxSwapRequests != 1 {
		t.Errorf("Expected MAX_SWAP_REQUESTS to default to 1, got %d", cfg.DefaultMaxSwapRequests)
	}
	if cfg.RateLimitAuth != "20-M" || cfg.RateLimitWsIP != "60-M" {
		t.Errorf("Expected rate limit defaults, got auth=%s ws_ip=%s", cfg.RateLimitAuth, cfg.RateLimitWsIP)
	}
}

func TestValidateEnv_DevModeRelaxesRequirements(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DEV_MODE", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected dev mode to pass without DATABASE_URL/LMS vars, got: %v", err)
	}
	if !cfg.DevMode {
		t.Error("Expected DevMode to be set")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("Expected empty DATABASE_URL, got '%s'", cfg.DatabaseURL)
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Unsetenv("JWT_SECRET")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Errorf("Expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("JWT_SECRET", "too-short")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "at least 32 characters") {
		t.Errorf("Expected short-secret error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("PORT", "not-a-port")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected port error, got: %v", err)
	}
}

func TestValidateEnv_MissingDatabaseURL(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Unsetenv("DATABASE_URL")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is required") {
		t.Errorf("Expected DATABASE_URL error, got: %v", err)
	}
}

func TestValidateEnv_MissingLMSVars(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Unsetenv("LMS_CLIENT_SECRET")
	os.Unsetenv("LMS_REDIRECT_URL")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing LMS configuration")
	}
	if !strings.Contains(err.Error(), "LMS_CLIENT_SECRET is required") {
		t.Errorf("Expected LMS_CLIENT_SECRET error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "LMS_REDIRECT_URL is required") {
		t.Errorf("Expected LMS_REDIRECT_URL error, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaults(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected default redis addr, got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "no-port-here")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "REDIS_ADDR must be in format") {
		t.Errorf("Expected redis addr error, got: %v", err)
	}
}

func TestValidateEnv_SkipAuthRequiresDevMode(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "SKIP_AUTH=true requires DEV_MODE=true") {
		t.Errorf("Expected skip-auth error, got: %v", err)
	}
}

func TestValidateEnv_SkipAuthInDevMode(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("DEV_MODE", "true")
	os.Setenv("SKIP_AUTH", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cfg.SkipAuth {
		t.Error("Expected SkipAuth to be set in dev mode")
	}
}

func TestValidateEnv_OTelCollectorAddr(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("OTEL_COLLECTOR_ADDR", "otel-collector:4317")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.OTelCollectorAddr != "otel-collector:4317" {
		t.Errorf("Expected collector addr to be set, got '%s'", cfg.OTelCollectorAddr)
	}

	os.Setenv("OTEL_COLLECTOR_ADDR", "not a hostport")
	_, err = ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "OTEL_COLLECTOR_ADDR must be in format") {
		t.Errorf("Expected collector addr error, got: %v", err)
	}
}

func TestValidateEnv_InvalidMaxSwapRequests(t *testing.T) {
	setupTestEnv(t)
	setProdBaseline(t)
	os.Setenv("MAX_SWAP_REQUESTS", "-2")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "MAX_SWAP_REQUESTS") {
		t.Errorf("Expected swap quota error, got: %v", err)
	}
}

func TestValidateEnv_CollectsAllProblems(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected validation failure")
	}
	msg := err.Error()
	for _, want := range []string{"JWT_SECRET is required", "PORT must be a valid port number", "DATABASE_URL is required"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestIsValidHostPort(t *testing.T) {
	cases := map[string]bool{
		"localhost:6379": true,
		"10.0.0.1:5432":  true,
		"localhost":      false,
		":6379":          false,
		"host:notaport":  false,
		"host:70000":     false,
	}
	for addr, want := range cases {
		if got := isValidHostPort(addr); got != want {
			t.Errorf("isValidHostPort(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestRedactSecret(t *testing.T) {
	if got := redactSecret("short"); got != "***" {
		t.Errorf("Expected '***', got '%s'", got)
	}
	if got := redactSecret("abcdefghijklmnop"); got != "abcdefgh***" {
		t.Errorf("Expected prefix redaction, got '%s'", got)
	}
}
