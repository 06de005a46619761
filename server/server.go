package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/questline/authbridge/accounts"
	"github.com/questline/authbridge/instrumentation"
	"github.com/questline/authbridge/providers"
	"github.com/questline/authbridge/security"
)

// Server coordinates the confidential exchange flow: provider calls on one
// side, account linking on the other.
type Server struct {
	provider providers.Provider
	accounts accounts.Service

	// replayGuard remembers consumed authorization codes so a replayed
	// callback is rejected before any provider call
	replayGuard *ttlcache.Cache[string, time.Time]

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new bridge server
func New(
	provider providers.Provider,
	accountService accounts.Service,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if accountService == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	guard := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](config.CodeReplayTTL),
	)
	go guard.Start()

	return &Server{
		provider:    provider,
		accounts:    accountService,
		replayGuard: guard,
		Config:      config,
		Logger:      logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the metrics/tracing provider
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Close stops background maintenance
func (s *Server) Close() {
	s.replayGuard.Stop()
}

// metrics returns the metric holder, or nil when instrumentation is unset.
// Callers must nil-check.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}
