package authbridge

import "time"

// Config holds the HTTP-surface configuration for the bridge.
type Config struct {
	// ListenAddr is the address the HTTP server binds to
	ListenAddr string // default: ":8080"

	// BaseURL is the public base URL of this service, used to decide
	// whether HSTS headers apply
	BaseURL string

	// ReadTimeout bounds reading the request including the body
	ReadTimeout time.Duration // default: 10s

	// WriteTimeout bounds writing the response
	WriteTimeout time.Duration // default: 30s

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration // default: 15s

	// MaxRequestBody bounds request body reads in bytes
	MaxRequestBody int64 // default: 64 KiB
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.MaxRequestBody <= 0 {
		c.MaxRequestBody = 64 << 10
	}
	return nil
}
