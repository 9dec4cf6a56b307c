// Package config handles application configuration from environment variables.
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
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64
	CatalogDir       string
	CatalogURL       string
	ReloadInterval   time.Duration
	NoticesURL       string
	MetricsAddr      string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/catalog.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	catalogDir := os.Getenv("CATALOG_DIR")
	catalogURL := os.Getenv("CATALOG_URL")
	if catalogDir != "" && catalogURL != "" {
		return nil, fmt.Errorf("CATALOG_DIR and CATALOG_URL are mutually exclusive")
	}

	reload := 60
	if raw := os.Getenv("RELOAD_INTERVAL_MINUTES"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins < 0 {
			return nil, fmt.Errorf("invalid RELOAD_INTERVAL_MINUTES %q", raw)
		}
		reload = mins
	}

	noticesURL := os.Getenv("NOTICES_URL")
	if noticesURL != "" && !strings.HasPrefix(noticesURL, "http://") && !strings.HasPrefix(noticesURL, "https://") {
		return nil, fmt.Errorf("NOTICES_URL must be an http(s) URL, got %q", noticesURL)
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		AllowedUsers:     allowedUsers,
		CatalogDir:       catalogDir,
		CatalogURL:       catalogURL,
		ReloadInterval:   time.Duration(reload) * time.Minute,
		NoticesURL:       noticesURL,
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}, nil
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
