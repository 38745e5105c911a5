package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the MINICHAT_* overrides so a developer shell cannot leak
// into the assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MINICHAT_SERVER_URL", "MINICHAT_API_BASE", "MINICHAT_TOKEN",
		"MINICHAT_CACHE_STORE", "MINICHAT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Server.URL)
	assert.Equal(t, "http://localhost:8080/api", cfg.Server.APIBase)
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, 3, cfg.Server.RetryMax)
	assert.Equal(t, 50, cfg.Chat.NotificationLimit)
	assert.Equal(t, 20, cfg.Chat.HistoryPageSize)
	assert.Equal(t, 5*time.Minute, cfg.Chat.GroupGap)
	assert.Equal(t, 3*time.Second, cfg.Chat.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Chat.DedupWindow)
	assert.Equal(t, 24*time.Hour, cfg.Chat.AggregationWindow)
	assert.Equal(t, 3, cfg.Windows.MaxOpen)
	assert.Equal(t, 320, cfg.Windows.Width)
	assert.Equal(t, "sqlite", cfg.Cache.Store)
	assert.True(t, cfg.Cache.IsEnabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.ConsoleStyle)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Server.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  url: wss://chat.example.com/ws
  apiBase: https://chat.example.com/api
  token: abc.def.ghi
  requestTimeout: 15s
  retryMax: 5
chat:
  historyPageSize: 40
  groupGap: 2m
  reconnectDelay: 500ms
  typingTTL: 8s
windows:
  maxOpen: 4
  width: 300
cache:
  enabled: false
  store: memory
  keep: 50
logging:
  level: debug
  consoleStyle: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/ws", cfg.Server.URL)
	assert.Equal(t, "https://chat.example.com/api", cfg.Server.APIBase)
	assert.Equal(t, "abc.def.ghi", cfg.Server.Token)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5, cfg.Server.RetryMax)
	assert.Equal(t, 40, cfg.Chat.HistoryPageSize)
	assert.Equal(t, 2*time.Minute, cfg.Chat.GroupGap)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.ReconnectDelay)
	assert.Equal(t, 8*time.Second, cfg.Chat.TypingTTL)
	assert.Equal(t, 4, cfg.Windows.MaxOpen)
	assert.Equal(t, 300, cfg.Windows.Width)
	assert.Equal(t, 480, cfg.Windows.Height)
	assert.False(t, cfg.Cache.IsEnabled())
	assert.Equal(t, "memory", cfg.Cache.Store)
	assert.Equal(t, 50, cfg.Cache.Keep)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)

	// unset fields still get defaults
	assert.Equal(t, 5*time.Second, cfg.Chat.DedupWindow)
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeout)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINICHAT_SERVER_URL", "wss://override.example.com/ws")
	t.Setenv("MINICHAT_TOKEN", "tok-from-env")
	t.Setenv("MINICHAT_CACHE_STORE", "MEMORY")
	t.Setenv("MINICHAT_LOG_LEVEL", "TRACE")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "wss://override.example.com/ws", cfg.Server.URL)
	assert.Equal(t, "tok-from-env", cfg.Server.Token)
	assert.Equal(t, "memory", cfg.Cache.Store)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

func TestLoadExpandsTokenFromDotEnv(t *testing.T) {
	clearEnv(t)
	const key = "MINICHAT_TEST_DOTENV_TOKEN"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("server:\n  token: ${"+key+"}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.Token)
}

func TestLoadLeavesUnknownVarsAlone(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  token: ${MINICHAT_TEST_SURELY_UNSET}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${MINICHAT_TEST_SURELY_UNSET}", cfg.Server.Token)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	err := LoadDotEnv(filepath.Join(t.TempDir(), "config.yaml"))
	assert.NoError(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MINICHAT_TEST_PART", "xyz")
	assert.Equal(t, "a-xyz-b", expandEnvVars("a-${MINICHAT_TEST_PART}-b"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
	assert.Equal(t, "$MINICHAT_TEST_PART", expandEnvVars("$MINICHAT_TEST_PART"))
}

func TestParseConfigPath(t *testing.T) {
	parts, err := ParseConfigPath("server.url")
	require.NoError(t, err)
	assert.Equal(t, []string{"server", "url"}, parts)

	_, err = ParseConfigPath("")
	assert.Error(t, err)

	_, err = ParseConfigPath("chat..historyPageSize")
	assert.Error(t, err)

	_, err = ParseConfigPath("__proto__.x")
	assert.Error(t, err)
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"windows", "maxOpen"}, 4)
	val, ok := GetValueAtPath(root, []string{"windows", "maxOpen"})
	assert.True(t, ok)
	assert.Equal(t, 4, val)

	_, ok = GetValueAtPath(root, []string{"windows", "width"})
	assert.False(t, ok)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"cache": map[string]any{
			"store": "memory",
			"keep":  10,
		},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"cache", "store"}))
	_, ok := GetValueAtPath(root, []string{"cache", "store"})
	assert.False(t, ok)

	val, ok := GetValueAtPath(root, []string{"cache", "keep"})
	assert.True(t, ok)
	assert.Equal(t, 10, val)

	assert.False(t, UnsetValueAtPath(root, []string{"cache", "store"}))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"server", "url"}, "wss://chat.example.com/ws")
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)
	val, ok := GetValueAtPath(loaded, []string{"server", "url"})
	assert.True(t, ok)
	assert.Equal(t, "wss://chat.example.com/ws", val)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRawEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
	assert.Empty(t, raw)
}
