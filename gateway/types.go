package gateway

import (
	"math"
	"time"

	"github.com/sandutsar/gradio/errors"
)

// Config holds configuration for the HTTP gateway.
type Config struct {
	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins. Use ["*"] for development only.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size,omitempty"`

	// RequestTimeout bounds a synchronous prediction (default: 60s)
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout,omitempty"`

	// RateLimit caps prediction, interpretation and queue push requests per
	// second across all clients. Zero disables throttling.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit,omitempty"`

	// RateBurst is the number of requests allowed at once above RateLimit
	// (default: the rate rounded up).
	RateBurst int `yaml:"rate_burst" json:"rate_burst,omitempty"`

	// Auth maps usernames to passwords. When set every API route requires
	// basic auth and the username is recorded as the flag requester.
	Auth map[string]string `yaml:"auth" json:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.RequestTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"request_timeout cannot be negative")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and rate_burst cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = int(math.Ceil(c.RateLimit))
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}
	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		MaxRequestSize: 1024 * 1024,
		RequestTimeout: 60 * time.Second,
	}
}
