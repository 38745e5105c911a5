package config

import "time"

// Config is the root configuration for minichat.
type Config struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Chat    ChatConfig    `yaml:"chat,omitempty"`
	Windows WindowsConfig `yaml:"windows,omitempty"`
	Cache   CacheConfig   `yaml:"cache,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// ServerConfig locates the chat server.
type ServerConfig struct {
	URL              string        `yaml:"url,omitempty"`     // real-time endpoint, ws:// or wss://
	APIBase          string        `yaml:"apiBase,omitempty"` // REST base, http:// or https://
	Token            string        `yaml:"token,omitempty"`   // session token; supports ${VAR}
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout,omitempty"`
	RequestTimeout   time.Duration `yaml:"requestTimeout,omitempty"`
	RetryMax         int           `yaml:"retryMax,omitempty"`
}

// ChatConfig tunes the session core.
type ChatConfig struct {
	NotificationLimit int           `yaml:"notificationLimit,omitempty"`
	HistoryPageSize   int           `yaml:"historyPageSize,omitempty"`
	GroupGap          time.Duration `yaml:"groupGap,omitempty"`
	ReconnectDelay    time.Duration `yaml:"reconnectDelay,omitempty"`
	DedupWindow       time.Duration `yaml:"dedupWindow,omitempty"`
	TypingTTL         time.Duration `yaml:"typingTTL,omitempty"`
	TypingThrottle    time.Duration `yaml:"typingThrottle,omitempty"`
	AggregationWindow time.Duration `yaml:"aggregationWindow,omitempty"`
	EventBuffer       int           `yaml:"eventBuffer,omitempty"`
}

// WindowsConfig controls the floating chat windows.
type WindowsConfig struct {
	MaxOpen int `yaml:"maxOpen,omitempty"`
	Width   int `yaml:"width,omitempty"`
	Height  int `yaml:"height,omitempty"`
	Gap     int `yaml:"gap,omitempty"`
}

// CacheConfig controls the local message cache.
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // defaults to true
	Store   string `yaml:"store,omitempty"`   // "sqlite" | "memory"
	Path    string `yaml:"path,omitempty"`    // defaults to <base>/data/cache.db
	Keep    int    `yaml:"keep,omitempty"`    // messages kept per conversation
}

// IsEnabled reports whether the cache is on.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
