package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Values come from
// DefaultConfig, overridden by environment variables (a .env file is loaded
// by the binary before FromEnv runs).
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	Store     *StoreConfig     `json:"store"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type StoreConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// AuthConfig carries the teacher credential and token signing material.
// TeacherPasswordHash (bcrypt) takes precedence over the plaintext
// TeacherPassword when both are set.
type AuthConfig struct {
	TeacherUsername     string        `json:"teacher_username"`
	TeacherPassword     string        `json:"-"`
	TeacherPasswordHash string        `json:"-"`
	JWTSecret           string        `json:"-"`
	TokenTTL            time.Duration `json:"token_ttl"`
}

// DefaultConfig returns classroom-scale defaults: local SQLite store, one
// HTTP listener, 30s WebSocket heartbeat.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: &StoreConfig{
			Path:            "./miniserver.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			TeacherUsername: "admin",
			TokenTTL:        12 * time.Hour,
		},
	}
}

// FromEnv builds a configuration from defaults plus environment overrides.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_PORT %q: %w", v, err)
		}
		cfg.HTTP.Port = port
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WS_BUFFER_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_BUFFER_SIZE %q: %w", v, err)
		}
		cfg.WebSocket.BufferSize = size
	}
	if v := os.Getenv("TEACHER_USERNAME"); v != "" {
		cfg.Auth.TeacherUsername = v
	}
	cfg.Auth.TeacherPassword = os.Getenv("TEACHER_PASSWORD")
	cfg.Auth.TeacherPasswordHash = os.Getenv("TEACHER_PASSWORD_HASH")
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_TTL %q: %w", v, err)
		}
		cfg.Auth.TokenTTL = ttl
	}

	return cfg, nil
}

// Validate rejects configurations that cannot produce a working server.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.Store.MaxConnections <= 0 {
		return fmt.Errorf("store max connections must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket intervals must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.TeacherUsername == "" {
		return fmt.Errorf("teacher username cannot be empty")
	}
	if c.Auth.TeacherPassword == "" && c.Auth.TeacherPasswordHash == "" {
		return fmt.Errorf("teacher password or password hash must be set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	return nil
}
