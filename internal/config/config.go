package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	JWTSecret  string
	SessionTTL time.Duration

	// Bootstrap operators created at startup when missing.
	AdminUsername    string
	AdminPassword    string
	OperatorUsername string
	OperatorPassword string

	// NotifyURLs are shoutrrr service URLs that receive custody events.
	NotifyURLs []string
	// ReconcileSchedule is a cron spec for the ledger projection check.
	ReconcileSchedule string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:       getEnv("KEYROOM_ENV", "development"),
		HTTPPort:          getEnv("KEYROOM_HTTP_PORT", "8080"),
		DatabasePath:      getEnv("KEYROOM_DB_PATH", filepath.Join("data", "keyroom.db")),
		LogDir:            getEnv("KEYROOM_LOG_DIR", filepath.Join("data", "logs")),
		Debug:             parseBool(os.Getenv("KEYROOM_DEBUG")),
		JWTSecret:         getEnv("KEYROOM_JWT_SECRET", "change-me-in-production"),
		AdminUsername:     getEnv("KEYROOM_ADMIN_USERNAME", "admin"),
		AdminPassword:     os.Getenv("KEYROOM_ADMIN_PASSWORD"),
		OperatorUsername:  getEnv("KEYROOM_OPERATOR_USERNAME", "user"),
		OperatorPassword:  os.Getenv("KEYROOM_OPERATOR_PASSWORD"),
		NotifyURLs:        splitList(os.Getenv("KEYROOM_NOTIFY_URLS")),
		ReconcileSchedule: getEnv("KEYROOM_RECONCILE_SCHEDULE", "@every 5m"),
	}

	ttl, err := time.ParseDuration(getEnv("KEYROOM_SESSION_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse KEYROOM_SESSION_TTL: %w", err)
	}
	if ttl <= 0 {
		return Config{}, fmt.Errorf("KEYROOM_SESSION_TTL must be positive, got %s", ttl)
	}
	cfg.SessionTTL = ttl

	if cfg.Environment == "production" && cfg.JWTSecret == "change-me-in-production" {
		return Config{}, fmt.Errorf("KEYROOM_JWT_SECRET must be set in production")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// SessionSeconds is the session lifetime in whole seconds, for cookies.
func (c Config) SessionSeconds() int {
	return int(c.SessionTTL / time.Second)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
