package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the chat client's runtime configuration
// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and chat logic
type Config struct {
	Server    *ServerConfig
	Auth      *AuthConfig
	WebSocket *WebSocketConfig
	Chat      *ChatConfig
	Log       *LogConfig
}

// ServerConfig locates the portal backend
type ServerConfig struct {
	BaseURL        string
	RequestTimeout time.Duration // Bound on every REST call, including fallback sends
	MetricsAddr    string        // Local status/metrics listener, empty disables it
}

// AuthConfig carries the credentials the chat socket is opened with
type AuthConfig struct {
	UserID int64
	Token  string
}

// WebSocketConfig tunes the socket transport
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// ChatConfig holds reconnect and typing-indicator timing
type ChatConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	TypingExpiry         time.Duration // Receiver side
	TypingIdle           time.Duration // Sender side
	TypingRate           float64
	TypingBurst          int
}

type LogConfig struct {
	Level string
	JSON  bool
}

// DefaultConfig returns the timings the portal's web client uses
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 10 * time.Second,
		},
		Auth: &AuthConfig{},
		WebSocket: &WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			BufferSize:       100,
		},
		Chat: &ChatConfig{
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
			TypingExpiry:         5 * time.Second,
			TypingIdle:           2 * time.Second,
			TypingRate:           5,
			TypingBurst:          5,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the chat core cannot run with
func (c *Config) Validate() error {
	if c.Server == nil || c.Auth == nil || c.WebSocket == nil || c.Chat == nil || c.Log == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server base URL must be an absolute http(s) URL")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request timeout must be positive")
	}

	if c.Auth.UserID < 0 {
		return fmt.Errorf("user ID cannot be negative")
	}

	if c.WebSocket.HandshakeTimeout <= 0 {
		return fmt.Errorf("WebSocket handshake timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Chat.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.Chat.ReconnectMaxDelay < c.Chat.ReconnectBaseDelay {
		return fmt.Errorf("reconnect max delay must be at least the base delay")
	}
	if c.Chat.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	if c.Chat.TypingExpiry <= 0 || c.Chat.TypingIdle <= 0 {
		return fmt.Errorf("typing timeouts must be positive")
	}
	if c.Chat.TypingRate <= 0 || c.Chat.TypingBurst <= 0 {
		return fmt.Errorf("typing rate and burst must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadDotEnv loads .env style files into the process environment. Variables
// already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromEnv returns defaults overridden by CLASSCHAT_* variables.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString(&config.Server.BaseURL, "CLASSCHAT_BASE_URL")
	setDuration(&config.Server.RequestTimeout, "CLASSCHAT_REQUEST_TIMEOUT")
	setString(&config.Server.MetricsAddr, "CLASSCHAT_METRICS_ADDR")

	if v := os.Getenv("CLASSCHAT_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Auth.UserID = id
		}
	}
	setString(&config.Auth.Token, "CLASSCHAT_TOKEN")

	setDuration(&config.WebSocket.HandshakeTimeout, "CLASSCHAT_WS_HANDSHAKE_TIMEOUT")
	setDuration(&config.WebSocket.PingInterval, "CLASSCHAT_WS_PING_INTERVAL")
	setDuration(&config.WebSocket.ReadTimeout, "CLASSCHAT_WS_READ_TIMEOUT")
	setDuration(&config.WebSocket.WriteTimeout, "CLASSCHAT_WS_WRITE_TIMEOUT")
	setInt(&config.WebSocket.BufferSize, "CLASSCHAT_WS_BUFFER_SIZE")

	setDuration(&config.Chat.ReconnectBaseDelay, "CLASSCHAT_RECONNECT_BASE_DELAY")
	setDuration(&config.Chat.ReconnectMaxDelay, "CLASSCHAT_RECONNECT_MAX_DELAY")
	setInt(&config.Chat.MaxReconnectAttempts, "CLASSCHAT_RECONNECT_MAX_ATTEMPTS")
	setDuration(&config.Chat.TypingExpiry, "CLASSCHAT_TYPING_EXPIRY")
	setDuration(&config.Chat.TypingIdle, "CLASSCHAT_TYPING_IDLE")
	if v := os.Getenv("CLASSCHAT_TYPING_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			config.Chat.TypingRate = rate
		}
	}
	setInt(&config.Chat.TypingBurst, "CLASSCHAT_TYPING_BURST")

	setString(&config.Log.Level, "CLASSCHAT_LOG_LEVEL")
	if v := os.Getenv("CLASSCHAT_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Log.JSON = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ConfigFile is the on-disk shape; durations are strings like "30s"
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	Server    *ServerConfigFile    `json:"server" yaml:"server"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Chat      *ChatConfigFile      `json:"chat" yaml:"chat"`
	Log       *LogConfigFile       `json:"log" yaml:"log"`
}

type ServerConfigFile struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr"`
}

type AuthConfigFile struct {
	UserID int64  `json:"user_id" yaml:"user_id"`
	Token  string `json:"token" yaml:"token"`
}

type WebSocketConfigFile struct {
	HandshakeTimeout string `json:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval     string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout      string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize       int    `json:"buffer_size" yaml:"buffer_size"`
}

type ChatConfigFile struct {
	ReconnectBaseDelay   string  `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    string  `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int     `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	TypingExpiry         string  `json:"typing_expiry" yaml:"typing_expiry"`
	TypingIdle           string  `json:"typing_idle" yaml:"typing_idle"`
	TypingRate           float64 `json:"typing_rate" yaml:"typing_rate"`
	TypingBurst          int     `json:"typing_burst" yaml:"typing_burst"`
}

type LogConfigFile struct {
	Level string `json:"level" yaml:"level"`
	JSON  *bool  `json:"json" yaml:"json"`
}

// LoadFromFile returns defaults overridden by a .json, .yaml or .yml file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if s := file.Server; s != nil {
		if s.BaseURL != "" {
			config.Server.BaseURL = s.BaseURL
		}
		if s.MetricsAddr != "" {
			config.Server.MetricsAddr = s.MetricsAddr
		}
		if err := parseDuration(&config.Server.RequestTimeout, s.RequestTimeout, "server.request_timeout"); err != nil {
			return err
		}
	}

	if a := file.Auth; a != nil {
		if a.UserID != 0 {
			config.Auth.UserID = a.UserID
		}
		if a.Token != "" {
			config.Auth.Token = a.Token
		}
	}

	if w := file.WebSocket; w != nil {
		if w.BufferSize > 0 {
			config.WebSocket.BufferSize = w.BufferSize
		}
		for _, d := range []struct {
			dst   *time.Duration
			value string
			name  string
		}{
			{&config.WebSocket.HandshakeTimeout, w.HandshakeTimeout, "websocket.handshake_timeout"},
			{&config.WebSocket.PingInterval, w.PingInterval, "websocket.ping_interval"},
			{&config.WebSocket.ReadTimeout, w.ReadTimeout, "websocket.read_timeout"},
			{&config.WebSocket.WriteTimeout, w.WriteTimeout, "websocket.write_timeout"},
		} {
			if err := parseDuration(d.dst, d.value, d.name); err != nil {
				return err
			}
		}
	}

	if c := file.Chat; c != nil {
		if c.MaxReconnectAttempts > 0 {
			config.Chat.MaxReconnectAttempts = c.MaxReconnectAttempts
		}
		if c.TypingRate > 0 {
			config.Chat.TypingRate = c.TypingRate
		}
		if c.TypingBurst > 0 {
			config.Chat.TypingBurst = c.TypingBurst
		}
		for _, d := range []struct {
			dst   *time.Duration
			value string
			name  string
		}{
			{&config.Chat.ReconnectBaseDelay, c.ReconnectBaseDelay, "chat.reconnect_base_delay"},
			{&config.Chat.ReconnectMaxDelay, c.ReconnectMaxDelay, "chat.reconnect_max_delay"},
			{&config.Chat.TypingExpiry, c.TypingExpiry, "chat.typing_expiry"},
			{&config.Chat.TypingIdle, c.TypingIdle, "chat.typing_idle"},
		} {
			if err := parseDuration(d.dst, d.value, d.name); err != nil {
				return err
			}
		}
	}

	if l := file.Log; l != nil {
		if l.Level != "" {
			config.Log.Level = l.Level
		}
		if l.JSON != nil {
			config.Log.JSON = *l.JSON
		}
	}
	return nil
}

func parseDuration(dst *time.Duration, value, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence layers defaults, then .env, then the environment,
// then the config file when path is non-empty, and validates the result
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
