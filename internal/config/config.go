package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig indicates how many requests are allowed within a given interval.
type RateLimitConfig struct {
	Requests int
	Interval time.Duration
}

// ImportConfig groups the tunables of the CSV import pipeline.
type ImportConfig struct {
	Workers         int
	QueueSize       int
	CompletionDelay time.Duration
	PollInterval    time.Duration
	MaxWait         time.Duration
	MaxUploadBytes  int64
	PreviewRows     int
}

// Config aggregates application-wide configuration values.
type Config struct {
	DatabaseURL     string
	JWTSecret       string
	Port            string
	UploadDir       string
	PhoneRegion     string
	TokenTTL        time.Duration
	RateLimitImport RateLimitConfig
	Import          ImportConfig
}

// Load reads configuration from environment variables and applies sane
// defaults. Secrets have no fallback values; a missing JWT_SECRET or
// DATABASE_URL is a startup error.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Port:        getEnv("PORT", "8080"),
		UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),
		PhoneRegion: getEnv("PHONE_REGION", "US"),
		TokenTTL:    parseDuration(getEnv("JWT_TTL", "24h"), 24*time.Hour),
		Import: ImportConfig{
			Workers:         parseInt(getEnv("IMPORT_WORKERS", "8"), 8),
			QueueSize:       parseInt(getEnv("IMPORT_QUEUE_SIZE", "256"), 256),
			CompletionDelay: parseDuration(getEnv("IMPORT_COMPLETION_DELAY", "30s"), 30*time.Second),
			PollInterval:    parseDuration(getEnv("IMPORT_POLL_INTERVAL", "30s"), 30*time.Second),
			MaxWait:         parseDuration(getEnv("IMPORT_MAX_WAIT", "30m"), 30*time.Minute),
			MaxUploadBytes:  parseInt64(getEnv("IMPORT_MAX_UPLOAD_BYTES", "10485760"), 10<<20),
			PreviewRows:     parseInt(getEnv("IMPORT_PREVIEW_ROWS", "20"), 20),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	rl, err := parseRateLimit(getEnv("RATE_LIMIT_IMPORT", "5/min"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_IMPORT value: %w", err)
	}
	cfg.RateLimitImport = rl

	return cfg, nil
}

func parseRateLimit(value string) (RateLimitConfig, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("expected format <requests>/<interval>, got %q", value)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid request count: %v", parts[0])
	}

	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	var interval time.Duration
	switch unit {
	case "s", "sec", "second", "seconds":
		interval = time.Second
	case "m", "min", "minute", "minutes":
		interval = time.Minute
	case "h", "hr", "hour", "hours":
		interval = time.Hour
	default:
		return RateLimitConfig{}, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	return RateLimitConfig{Requests: requests, Interval: interval}, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseDuration(input string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(input)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(input string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseInt64(input string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
