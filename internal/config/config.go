// Package config loads relay settings from defaults, environment and an optional file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. CANVAS_HTTP_PORT.
const EnvPrefix = "CANVAS"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Canvas    *CanvasConfig    `mapstructure:"canvas"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	Logging   *LoggingConfig   `mapstructure:"logging"`
}

// HTTPConfig holds listener settings
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port for http.Server.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// WebSocketConfig holds per-connection transport settings
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// CanvasConfig holds the shared drawing session settings
type CanvasConfig struct {
	HistoryCeiling int           `mapstructure:"history_ceiling"`
	HistoryRetain  int           `mapstructure:"history_retain"`
	RateLimit      int           `mapstructure:"rate_limit"` // events per window per connection, 0 disables
	RateWindow     time.Duration `mapstructure:"rate_window"`
	EventQueueSize int           `mapstructure:"event_queue_size"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8083,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 64 * 1024,
			AllowedOrigins: []string{},
		},
		Canvas: &CanvasConfig{
			HistoryCeiling: 10000,
			HistoryRetain:  8000,
			RateLimit:      0,
			RateWindow:     time.Minute,
			EventQueueSize: 1024,
		},
		Database: &DatabaseConfig{
			Enabled: true,
			Path:    "./canvas.db",
			Timeout: 30 * time.Second,
		},
		Logging: &LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// setDefaults mirrors DefaultConfig into v so env overrides resolve for every key
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("canvas.history_ceiling", d.Canvas.HistoryCeiling)
	v.SetDefault("canvas.history_retain", d.Canvas.HistoryRetain)
	v.SetDefault("canvas.rate_limit", d.Canvas.RateLimit)
	v.SetDefault("canvas.rate_window", d.Canvas.RateWindow)
	v.SetDefault("canvas.event_queue_size", d.Canvas.EventQueueSize)

	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load resolves configuration with precedence environment > file > defaults.
// An empty path skips the file; a path that cannot be read is an error.
// FUNCTIONAL DISCOVERY: Validate after loading to catch errors before any listener starts
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return errors.New("WebSocket read timeout must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than read timeout")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Canvas == nil {
		return errors.New("canvas configuration is required")
	}
	if c.Canvas.HistoryCeiling <= 0 {
		return errors.New("canvas history ceiling must be positive")
	}
	if c.Canvas.HistoryRetain <= 0 {
		return errors.New("canvas history retain must be positive")
	}
	if c.Canvas.HistoryRetain > c.Canvas.HistoryCeiling {
		return errors.New("canvas history retain cannot exceed history ceiling")
	}
	if c.Canvas.RateLimit < 0 {
		return errors.New("canvas rate limit cannot be negative")
	}
	if c.Canvas.RateLimit > 0 && c.Canvas.RateWindow <= 0 {
		return errors.New("canvas rate window must be positive when rate limiting is enabled")
	}
	if c.Canvas.EventQueueSize <= 0 {
		return errors.New("canvas event queue size must be positive")
	}

	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Enabled {
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
		if c.Database.Timeout <= 0 {
			return errors.New("database timeout must be positive")
		}
	}

	if c.Logging == nil {
		return errors.New("logging configuration is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}

	return nil
}
