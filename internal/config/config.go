package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.URL == "" {
		cfg.Server.URL = "ws://localhost:8080/ws"
	}
	if cfg.Server.APIBase == "" {
		cfg.Server.APIBase = "http://localhost:8080/api"
	}
	if cfg.Server.HandshakeTimeout == 0 {
		cfg.Server.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.RetryMax == 0 {
		cfg.Server.RetryMax = 3
	}

	if cfg.Chat.NotificationLimit == 0 {
		cfg.Chat.NotificationLimit = 50
	}
	if cfg.Chat.HistoryPageSize == 0 {
		cfg.Chat.HistoryPageSize = 20
	}
	if cfg.Chat.GroupGap == 0 {
		cfg.Chat.GroupGap = 5 * time.Minute
	}
	if cfg.Chat.ReconnectDelay == 0 {
		cfg.Chat.ReconnectDelay = 3 * time.Second
	}
	if cfg.Chat.DedupWindow == 0 {
		cfg.Chat.DedupWindow = 5 * time.Second
	}
	if cfg.Chat.TypingTTL == 0 {
		cfg.Chat.TypingTTL = 5 * time.Second
	}
	if cfg.Chat.TypingThrottle == 0 {
		cfg.Chat.TypingThrottle = 3 * time.Second
	}
	if cfg.Chat.AggregationWindow == 0 {
		cfg.Chat.AggregationWindow = 24 * time.Hour
	}
	if cfg.Chat.EventBuffer == 0 {
		cfg.Chat.EventBuffer = 256
	}

	if cfg.Windows.MaxOpen == 0 {
		cfg.Windows.MaxOpen = 3
	}
	if cfg.Windows.Width == 0 {
		cfg.Windows.Width = 320
	}
	if cfg.Windows.Height == 0 {
		cfg.Windows.Height = 480
	}
	if cfg.Windows.Gap == 0 {
		cfg.Windows.Gap = 20
	}

	if cfg.Cache.Store == "" {
		cfg.Cache.Store = "sqlite"
	}
	if cfg.Cache.Keep == 0 {
		cfg.Cache.Keep = 200
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}
