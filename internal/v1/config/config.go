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
	JWTSecret               string
	Port                    string
	TranscriptionServiceURL string

	// Optional variables with defaults
	Host                string
	GoEnv               string
	LogLevel            string
	JWTIssuer           string
	TranscriptionAPIKey string
	RedisEnabled        bool
	RedisAddr           string
	RedisPassword       string
	DevelopmentMode     bool
	AllowedOrigins      string

	// Rate limits (M = Minute, H = Hour)
	RateLimitAPIGlobal string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
	RateLimitWsSession string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error listing every missing/invalid variable at
// once rather than failing on the first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters, shared HMAC secret with
	// the session-manager that mints tokens for this relay)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: TRANSCRIPTION_SERVICE_URL (the websocket endpoint the transcription client dials)
	cfg.TranscriptionServiceURL = os.Getenv("TRANSCRIPTION_SERVICE_URL")
	if cfg.TranscriptionServiceURL == "" {
		errors = append(errors, "TRANSCRIPTION_SERVICE_URL is required")
	} else if !strings.HasPrefix(cfg.TranscriptionServiceURL, "ws://") && !strings.HasPrefix(cfg.TranscriptionServiceURL, "wss://") {
		errors = append(errors, fmt.Sprintf("TRANSCRIPTION_SERVICE_URL must use ws:// or wss:// (got '%s')", cfg.TranscriptionServiceURL))
	}

	cfg.TranscriptionAPIKey = os.Getenv("TRANSCRIPTION_API_KEY")

	// Optional: HOST (defaults to all interfaces)
	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	// Optional: JWT_ISSUER (defaults to the session manager's well-known name)
	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "scribear-session-manager"
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true), backs the
	// distributed rate limiter store
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsSession = getEnvOrDefault("RATE_LIMIT_WS_SESSION", "10-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"jwt_issuer", cfg.JWTIssuer,
		"host", cfg.Host,
		"port", cfg.Port,
		"transcription_service_url", cfg.TranscriptionServiceURL,
		"transcription_api_key", redactSecret(cfg.TranscriptionAPIKey),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
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
