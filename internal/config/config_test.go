package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FUNCTIONAL VALIDATION TEST: Defaults match the portal's web client timings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, time.Second, config.Chat.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, config.Chat.ReconnectMaxDelay)
	assert.Equal(t, 5, config.Chat.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, config.Chat.TypingExpiry)
	assert.Equal(t, 2*time.Second, config.Chat.TypingIdle)
	assert.Equal(t, 10*time.Second, config.Server.RequestTimeout)
	assert.Empty(t, config.Server.MetricsAddr)
	assert.Equal(t, "info", config.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base URL", func(c *Config) { c.Server.BaseURL = "portal.local" }},
		{"ftp base URL", func(c *Config) { c.Server.BaseURL = "ftp://portal.local" }},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }},
		{"negative user", func(c *Config) { c.Auth.UserID = -1 }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"max delay below base", func(c *Config) { c.Chat.ReconnectMaxDelay = 500 * time.Millisecond }},
		{"no attempts", func(c *Config) { c.Chat.MaxReconnectAttempts = 0 }},
		{"zero typing expiry", func(c *Config) { c.Chat.TypingExpiry = 0 }},
		{"zero typing burst", func(c *Config) { c.Chat.TypingBurst = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"missing section", func(c *Config) { c.Chat = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CLASSCHAT_BASE_URL", "https://portal.school.test")
	t.Setenv("CLASSCHAT_USER_ID", "42")
	t.Setenv("CLASSCHAT_TOKEN", "tok")
	t.Setenv("CLASSCHAT_RECONNECT_MAX_ATTEMPTS", "8")
	t.Setenv("CLASSCHAT_TYPING_EXPIRY", "3s")
	t.Setenv("CLASSCHAT_TYPING_RATE", "2.5")
	t.Setenv("CLASSCHAT_LOG_JSON", "true")
	t.Setenv("CLASSCHAT_WS_BUFFER_SIZE", "not-a-number")

	config := LoadFromEnv()

	assert.Equal(t, "https://portal.school.test", config.Server.BaseURL)
	assert.Equal(t, int64(42), config.Auth.UserID)
	assert.Equal(t, "tok", config.Auth.Token)
	assert.Equal(t, 8, config.Chat.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, config.Chat.TypingExpiry)
	assert.Equal(t, 2.5, config.Chat.TypingRate)
	assert.True(t, config.Log.JSON)
	assert.Equal(t, 100, config.WebSocket.BufferSize, "unparseable values keep the default")
}

func TestConfig_LoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classchat.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"base_url": "https://portal.school.test", "metrics_addr": ":9090"},
		"chat": {"reconnect_base_delay": "2s", "reconnect_max_delay": "1m"},
		"log": {"level": "debug", "json": true}
	}`), 0o600))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.school.test", config.Server.BaseURL)
	assert.Equal(t, ":9090", config.Server.MetricsAddr)
	assert.Equal(t, 2*time.Second, config.Chat.ReconnectBaseDelay)
	assert.Equal(t, time.Minute, config.Chat.ReconnectMaxDelay)
	assert.Equal(t, "debug", config.Log.Level)
	assert.True(t, config.Log.JSON)
	assert.Equal(t, 5*time.Second, config.Chat.TypingExpiry)
}

func TestConfig_LoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  user_id: 7
websocket:
  ping_interval: 15s
  read_timeout: 45s
chat:
  typing_idle: 1500ms
  typing_burst: 3
`), 0o600))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7), config.Auth.UserID)
	assert.Equal(t, 15*time.Second, config.WebSocket.PingInterval)
	assert.Equal(t, 45*time.Second, config.WebSocket.ReadTimeout)
	assert.Equal(t, 1500*time.Millisecond, config.Chat.TypingIdle)
	assert.Equal(t, 3, config.Chat.TypingBurst)
}

func TestConfig_LoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"chat": {"typing_expiry": "soon"}}`), 0o600))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "chat.typing_expiry")

	invalid := filepath.Join(dir, "invalid.yml")
	require.NoError(t, os.WriteFile(invalid, []byte("chat:\n  max_reconnect_attempts: 3\n  reconnect_max_delay: 100ms\n"), 0o600))
	_, err = LoadFromFile(invalid)
	assert.ErrorContains(t, err, "invalid configuration")
}

// FUNCTIONAL VALIDATION TEST: File overrides environment, environment overrides defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CLASSCHAT_BASE_URL", "https://env.school.test")
	t.Setenv("CLASSCHAT_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "classchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_url: https://file.school.test\n"), 0o600))

	config, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.school.test", config.Server.BaseURL)
	assert.Equal(t, "warn", config.Log.Level)

	config, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.school.test", config.Server.BaseURL)

	t.Setenv("CLASSCHAT_LOG_LEVEL", "loud")
	_, err = LoadConfigWithPrecedence("")
	assert.Error(t, err)
}

func TestConfig_LoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CLASSCHAT_TYPING_BURST=9\nCLASSCHAT_TOKEN=from-dotenv\n"), 0o600))

	t.Setenv("CLASSCHAT_TOKEN", "from-shell")
	// Registers cleanup for a variable the .env file will set.
	t.Setenv("CLASSCHAT_TYPING_BURST", "")
	require.NoError(t, os.Unsetenv("CLASSCHAT_TYPING_BURST"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path))

	config := LoadFromEnv()
	assert.Equal(t, 9, config.Chat.TypingBurst)
	assert.Equal(t, "from-shell", config.Auth.Token, "shell variables win over .env")
}
