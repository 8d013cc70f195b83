package api

import (
	"os"
	"time"
)

// EnvTokenSecret is the environment variable that overrides the configured
// API token secret.
const EnvTokenSecret = "SECURENAS_API_TOKEN_SECRET"

// APIConfig contains admin API server configuration.
type APIConfig struct {
	// Port is the API server port
	Port int `mapstructure:"port" validate:"omitempty,gt=0,lte=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading a request
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// Token configures bearer-token authentication
	Token TokenConfig `mapstructure:"token" yaml:"token"`
}

// TokenConfig configures admin bearer tokens.
type TokenConfig struct {
	// Secret is the HMAC signing key for admin tokens. Must be at least
	// 32 characters. Overridden by SECURENAS_API_TOKEN_SECRET.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Duration is the lifetime of minted admin tokens. Default: 12h.
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *APIConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.Token.Duration == 0 {
		c.Token.Duration = 12 * time.Hour
	}
}

// GetTokenSecret returns the token secret, preferring the environment variable.
func (c *APIConfig) GetTokenSecret() string {
	if secret := os.Getenv(EnvTokenSecret); secret != "" {
		return secret
	}
	return c.Token.Secret
}
