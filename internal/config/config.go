// Package config loads runtime configuration from the environment. A
// .env file, when present, seeds the environment before reading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DatabaseURL selects the Postgres backend. Empty means the
	// in-process store, which is enough for local development.
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerAddr  string
	LogLevel    slog.Level

	DirectoryURL         string
	DirectoryRefresh     time.Duration
	ModerationURL        string
	GeminiAPIKey         string
	GeminiModel          string
	RateLimitWindow      time.Duration
	ReadReceiptsEnabled  bool
	ReadReceiptDebounce  time.Duration
	ReadReceiptCooldown  time.Duration
	NotificationsEnabled bool

	// Moderators and Admins are user ids with elevated roles. Everyone
	// else in the directory is a plain member.
	Moderators []string
	Admins     []string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseTLS    bool
}

func Load() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             envOrDefault("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		ServerAddr:           envOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:             parseLogLevel(os.Getenv("LOG_LEVEL")),
		DirectoryURL:         os.Getenv("DIRECTORY_URL"),
		DirectoryRefresh:     envDuration("DIRECTORY_REFRESH", time.Minute),
		ModerationURL:        os.Getenv("MODERATION_URL"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          os.Getenv("GEMINI_MODEL"),
		RateLimitWindow:      envDuration("RATE_LIMIT_WINDOW", 3*time.Second),
		ReadReceiptsEnabled:  envBool("READ_RECEIPTS_ENABLED", true),
		ReadReceiptDebounce:  envDuration("READ_RECEIPT_DEBOUNCE", 10*time.Second),
		ReadReceiptCooldown:  envDuration("READ_RECEIPT_COOLDOWN", 30*time.Second),
		NotificationsEnabled: envBool("NOTIFICATIONS_ENABLED", false),
		Moderators:           envList("MODERATORS"),
		Admins:               envList("ADMINS"),
		MinIOEndpoint:        os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey:       os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:       os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:          envOrDefault("MINIO_BUCKET", "campuschat-attachments"),
		MinIOUseTLS:          envBool("MINIO_USE_TLS", false),
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.DirectoryURL == "" {
		missing = append(missing, "DIRECTORY_URL")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Sprintf("%s: invalid duration %q", key, v))
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Sprintf("%s: invalid boolean %q", key, v))
	}
	return b
}
