package config

import "time"

// Config holds client session and dev server configuration values.
type Config struct {
	APIBaseURL    string `mapstructure:"api_base_url" yaml:"api_base_url"`
	WSFallbackURL string `mapstructure:"ws_fallback_url" yaml:"ws_fallback_url"`
	AccessToken   string `mapstructure:"access_token" yaml:"access_token"`
	UserID        int64  `mapstructure:"user_id" yaml:"user_id"`
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`

	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxMessageBytes      int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	HistoryLimit         int           `mapstructure:"history_limit" yaml:"history_limit"`
	ArchivePath          string        `mapstructure:"archive_path" yaml:"archive_path"`

	DevAddr           string        `mapstructure:"dev_addr" yaml:"dev_addr"`
	DevJWTSecret      string        `mapstructure:"dev_jwt_secret" yaml:"dev_jwt_secret"`
	DevJWTIssuer      string        `mapstructure:"dev_jwt_issuer" yaml:"dev_jwt_issuer"`
	DevJWTAudience    string        `mapstructure:"dev_jwt_audience" yaml:"dev_jwt_audience"`
	DevSendLimit      int           `mapstructure:"dev_send_limit" yaml:"dev_send_limit"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:           "http://localhost:8080/api/v2",
		WSFallbackURL:        "ws://localhost:8080/ws",
		LogLevel:             "info",
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		RequestTimeout:       15 * time.Second,
		MaxMessageBytes:      1 << 20,
		HistoryLimit:         50,
		DevAddr:              ":8080",
		DevJWTSecret:         "dev-secret-change-me",
		DevJWTIssuer:         "wirechat-dev",
		DevJWTAudience:       "wirechat",
		DevSendLimit:         60,
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.WSFallbackURL != "" {
		c.WSFallbackURL = other.WSFallbackURL
	}
	if other.AccessToken != "" {
		c.AccessToken = other.AccessToken
	}
	if other.UserID != 0 {
		c.UserID = other.UserID
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ReconnectBaseDelay != 0 {
		c.ReconnectBaseDelay = other.ReconnectBaseDelay
	}
	if other.ReconnectMaxAttempts != 0 {
		c.ReconnectMaxAttempts = other.ReconnectMaxAttempts
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.ArchivePath != "" {
		c.ArchivePath = other.ArchivePath
	}
	if other.DevAddr != "" {
		c.DevAddr = other.DevAddr
	}
	if other.DevJWTSecret != "" {
		c.DevJWTSecret = other.DevJWTSecret
	}
	if other.DevJWTIssuer != "" {
		c.DevJWTIssuer = other.DevJWTIssuer
	}
	if other.DevJWTAudience != "" {
		c.DevJWTAudience = other.DevJWTAudience
	}
	if other.DevSendLimit != 0 {
		c.DevSendLimit = other.DevSendLimit
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
