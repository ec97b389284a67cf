// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the linechat service.
package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

const (
	defaultPort            = 12345
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds the server configuration. Tags drive loading from the
// environment; list values are separated with '|'.
type Config struct {
	Host            string `env:"CHAT_HOST,default=0.0.0.0"`
	Port            int    `env:"CHAT_PORT,default=12345" validate:"min=1,max=65535"`
	CredentialsFile string `env:"CHAT_CREDENTIALS_FILE,default=users.txt" validate:"required"`

	MaxLineLength int           `env:"CHAT_MAX_LINE_LENGTH,default=1024" validate:"min=16"`
	QueueSize     int           `env:"CHAT_QUEUE_SIZE,default=256" validate:"min=1"`
	WriteTimeout  time.Duration `env:"CHAT_WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	// AuthTimeout bounds the login exchange; zero waits forever.
	AuthTimeout time.Duration `env:"CHAT_AUTH_TIMEOUT,default=0s" validate:"min=0"`

	CaseInsensitiveUsernames bool `env:"CHAT_CASE_INSENSITIVE_USERNAMES,default=false"`
	// MaxConnections caps concurrently served connections; further clients
	// wait in the listener backlog. Zero means unbounded.
	MaxConnections int `env:"CHAT_MAX_CONNECTIONS,default=0" validate:"min=0"`

	// WebSocketAddr enables the WebSocket/HTTP listener when non-empty.
	WebSocketAddr  string   `env:"CHAT_WS_ADDR"`
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS,default=http://localhost:8080"`

	LogLevel        string        `env:"CHAT_LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	ShutdownTimeout time.Duration `env:"CHAT_SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
}

var validate = validator.New()

func defaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            defaultPort,
		CredentialsFile: "users.txt",
		MaxLineLength:   protocol.MaxLineLength,
		QueueSize:       registry.DefaultQueueSize,
		WriteTimeout:    defaultWriteTimeout,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		LogLevel:        "INFO",
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = def.CredentialsFile
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = def.MaxLineLength
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.AuthTimeout < 0 {
		cfg.AuthTimeout = 0
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	// Invalid entries are kept so the origin policy can report them when
	// the server starts; they never match a request.
	normalized, allowAll, invalid := normalizeOrigins(cfg.AllowedOrigins)
	normalized = append(normalized, invalid...)
	if allowAll {
		normalized = append(normalized, "*")
	}
	cfg.AllowedOrigins = normalized

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads the configuration from the environment, applies defaults
// to unset or non-positive values and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the TCP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
