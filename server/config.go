package server

import (
	"log/slog"
	"time"
)

// Config holds bridge server configuration
type Config struct {
	// ExchangeTimeout bounds the provider code-exchange call
	ExchangeTimeout time.Duration // default: 15s

	// ProfileTimeout bounds the provider profile fetch
	ProfileTimeout time.Duration // default: 10s

	// LinkingTimeout bounds each account-service call
	LinkingTimeout time.Duration // default: 10s

	// CodeReplayTTL is how long consumed authorization codes are remembered.
	// A code seen again within this window is rejected without a provider
	// call. Should exceed the provider's own code lifetime.
	CodeReplayTTL time.Duration // default: 10 minutes

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable if behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP from
	// X-Forwarded-For. Default: 1
	TrustedProxyCount int

	// RequireState rejects exchange requests that carry no CSRF state.
	// The client runtime tolerates a missing stored state and forwards an
	// empty value; when false the server accepts it and logs an anomaly.
	// Default: false
	RequireState bool
}

// applySecureDefaults applies default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.ExchangeTimeout <= 0 {
		config.ExchangeTimeout = 15 * time.Second
	}
	if config.ProfileTimeout <= 0 {
		config.ProfileTimeout = 10 * time.Second
	}
	if config.LinkingTimeout <= 0 {
		config.LinkingTimeout = 10 * time.Second
	}
	if config.CodeReplayTTL <= 0 {
		config.CodeReplayTTL = 10 * time.Minute
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.TrustProxy {
		logger.Warn("TrustProxy is enabled; ensure the server is actually behind that many trusted proxies",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	return config
}
