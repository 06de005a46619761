package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig is the serve command's configuration, loaded from the
// environment. Secrets only ever arrive this way; there are no secret flags.
type envConfig struct {
	ListenAddr string `env:"AUTHBRIDGE_LISTEN_ADDR" envDefault:":8080"`
	BaseURL    string `env:"AUTHBRIDGE_BASE_URL"`

	LogLevel  string `env:"AUTHBRIDGE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHBRIDGE_LOG_FORMAT" envDefault:"json"`

	XClientID     string   `env:"AUTHBRIDGE_X_CLIENT_ID"`
	XClientSecret string   `env:"AUTHBRIDGE_X_CLIENT_SECRET"`
	XRedirectURL  string   `env:"AUTHBRIDGE_X_REDIRECT_URL"`
	XScopes       []string `env:"AUTHBRIDGE_X_SCOPES" envSeparator:","`

	AccountsBaseURL string `env:"AUTHBRIDGE_ACCOUNTS_BASE_URL"`
	AccountsAPIKey  string `env:"AUTHBRIDGE_ACCOUNTS_API_KEY"`

	RateLimitPerSecond int `env:"AUTHBRIDGE_RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst     int `env:"AUTHBRIDGE_RATE_LIMIT_BURST" envDefault:"10"`

	RequireState bool `env:"AUTHBRIDGE_REQUIRE_STATE" envDefault:"false"`
	AuditEnabled bool `env:"AUTHBRIDGE_AUDIT_ENABLED" envDefault:"true"`

	MetricsEnabled bool `env:"AUTHBRIDGE_METRICS_ENABLED" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"AUTHBRIDGE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

func loadConfig() (*envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// validateServe checks the fields the serve command cannot run without.
// Required-ness lives here rather than in env tags so `authbridge version`
// and flag parsing work in an empty environment.
func (c *envConfig) validateServe() error {
	var missing []string
	if c.XClientID == "" {
		missing = append(missing, "AUTHBRIDGE_X_CLIENT_ID")
	}
	if c.XClientSecret == "" {
		missing = append(missing, "AUTHBRIDGE_X_CLIENT_SECRET")
	}
	if c.XRedirectURL == "" {
		missing = append(missing, "AUTHBRIDGE_X_REDIRECT_URL")
	}
	if c.AccountsBaseURL == "" {
		missing = append(missing, "AUTHBRIDGE_ACCOUNTS_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *envConfig) newLogger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
}
