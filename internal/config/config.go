package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`

	DBDriver       string `mapstructure:"db_driver" yaml:"db_driver" validate:"oneof=sqlite badger"`
	DBPath         string `mapstructure:"db_path" yaml:"db_path" validate:"required"`
	DBMaxOpenConns int    `mapstructure:"db_max_open_conns" yaml:"db_max_open_conns" validate:"gte=0"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl" validate:"gt=0"`

	// MaxMessageBytes caps a single inbound WebSocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
	// MaxBodyLength caps a chat message body, in characters.
	MaxBodyLength int `mapstructure:"max_body_length" yaml:"max_body_length" validate:"gt=0"`
	// RateLimitPerMinute caps chat messages per connection; 0 disables the limit.
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
	ClientBuffer       int           `mapstructure:"client_buffer" yaml:"client_buffer" validate:"gt=0"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`

	ResponderEnabled  bool   `mapstructure:"responder_enabled" yaml:"responder_enabled"`
	ResponderIdentity string `mapstructure:"responder_identity" yaml:"responder_identity" validate:"required_if=ResponderEnabled true"`
	ResponderBody     string `mapstructure:"responder_body" yaml:"responder_body" validate:"required_if=ResponderEnabled true"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		DBDriver:           "sqlite",
		DBPath:             "roomchat.db",
		DBMaxOpenConns:     4,
		JWTSecret:          "roomchat-dev-secret-change-me",
		JWTIssuer:          "roomchat",
		JWTAudience:        "roomchat-clients",
		JWTTTL:             24 * time.Hour,
		MaxMessageBytes:    16 << 10,
		MaxBodyLength:      4000,
		RateLimitPerMinute: 60,
		ClientBuffer:       64,
		WriteTimeout:       5 * time.Second,
		ResponderEnabled:   true,
		ResponderIdentity:  "Клубочки крючочки",
		ResponderBody:      "Пока на доработке",
	}
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UpdateFrom overwrites the receiver with the non-zero command-line overridable values of other.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DBDriver != "" {
		c.DBDriver = other.DBDriver
	}
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
