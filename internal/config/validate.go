package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server validation
	if cfg.Server.URL == "" {
		add("server.url", "url is required")
	} else if err := checkURL(cfg.Server.URL, "ws", "wss"); err != "" {
		add("server.url", "%s", err)
	}
	if cfg.Server.APIBase != "" {
		if err := checkURL(cfg.Server.APIBase, "http", "https"); err != "" {
			add("server.apiBase", "%s", err)
		}
	}
	if cfg.Server.RetryMax < 0 {
		add("server.retryMax", "must be >= 0, got %d", cfg.Server.RetryMax)
	}

	// Chat validation
	durations := []struct {
		path string
		d    time.Duration
	}{
		{"server.handshakeTimeout", cfg.Server.HandshakeTimeout},
		{"server.requestTimeout", cfg.Server.RequestTimeout},
		{"chat.groupGap", cfg.Chat.GroupGap},
		{"chat.reconnectDelay", cfg.Chat.ReconnectDelay},
		{"chat.dedupWindow", cfg.Chat.DedupWindow},
		{"chat.typingTTL", cfg.Chat.TypingTTL},
		{"chat.typingThrottle", cfg.Chat.TypingThrottle},
		{"chat.aggregationWindow", cfg.Chat.AggregationWindow},
	}
	for _, d := range durations {
		if d.d < 0 {
			add(d.path, "must not be negative, got %s", d.d)
		}
	}
	if cfg.Chat.HistoryPageSize < 0 || cfg.Chat.HistoryPageSize > 200 {
		add("chat.historyPageSize", "must be 1-200, got %d", cfg.Chat.HistoryPageSize)
	}
	if cfg.Chat.NotificationLimit < 0 || cfg.Chat.NotificationLimit > 500 {
		add("chat.notificationLimit", "must be 1-500, got %d", cfg.Chat.NotificationLimit)
	}
	if cfg.Chat.EventBuffer < 0 {
		add("chat.eventBuffer", "must be >= 0, got %d", cfg.Chat.EventBuffer)
	}

	// Windows validation
	if cfg.Windows.MaxOpen < 0 {
		add("windows.maxOpen", "must be >= 1, got %d", cfg.Windows.MaxOpen)
	}
	if cfg.Windows.Width < 0 || cfg.Windows.Height < 0 || cfg.Windows.Gap < 0 {
		add("windows", "width, height and gap must not be negative")
	}

	// Cache validation
	validStores := []string{"sqlite", "memory"}
	if cfg.Cache.Store != "" && !slices.Contains(validStores, cfg.Cache.Store) {
		add("cache.store", "must be one of %v, got %q", validStores, cfg.Cache.Store)
	}
	if cfg.Cache.Keep < 0 {
		add("cache.keep", "must be >= 0, got %d", cfg.Cache.Keep)
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}

func checkURL(raw string, schemes ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid url: %v", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Sprintf("scheme must be one of %v, got %q", schemes, u.Scheme)
	}
	if u.Host == "" {
		return "url has no host"
	}
	return ""
}
