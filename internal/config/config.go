// Package config handles application configuration from environment variables
// and the sources file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath     string
	LogLevel         string
	SourcesPath      string
	TelegramBotToken string
	AllowedUsers     []int64
	OperatorChatID   int64
	MetricsAddr      string
	FeedTimeout      time.Duration
	ProviderTimeout  time.Duration
	ImageEndpoint    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     envOr("DATABASE_PATH", "./data/harvester.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		SourcesPath:      envOr("SOURCES_PATH", "./config/sources.yaml"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		ImageEndpoint:    os.Getenv("IMAGE_ENDPOINT"),
		MetricsAddr:      ":9090",
	}

	// An explicitly empty METRICS_ADDR disables the metrics server.
	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(addr)
	}

	var err error
	if cfg.AllowedUsers, err = parseIDs(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(os.Getenv("OPERATOR_CHAT_ID")); raw != "" {
		if cfg.OperatorChatID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid OPERATOR_CHAT_ID %q: %w", raw, err)
		}
	}
	if cfg.FeedTimeout, err = durationEnv("FEED_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = durationEnv("PROVIDER_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
