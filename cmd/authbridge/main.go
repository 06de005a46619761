// Command authbridge runs the confidential half of the auth bridge: the HTTP
// service that exchanges authorization codes, refreshes and revokes provider
// tokens, and links provider identities to application accounts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/accounts"
	"github.com/questline/authbridge/instrumentation"
	"github.com/questline/authbridge/providers/x"
	"github.com/questline/authbridge/security"
	"github.com/questline/authbridge/server"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authbridge",
		Short:         "OAuth authorization-code exchange bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.validateServe(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *envConfig) error {
	logger, err := cfg.newLogger()
	if err != nil {
		return err
	}

	provider, err := x.New(&x.Config{
		ClientID:     cfg.XClientID,
		ClientSecret: cfg.XClientSecret,
		RedirectURL:  cfg.XRedirectURL,
		Scopes:       cfg.XScopes,
	})
	if err != nil {
		return fmt.Errorf("configuring provider: %w", err)
	}

	accountSvc, err := accounts.NewClient(accounts.Config{
		BaseURL: cfg.AccountsBaseURL,
		APIKey:  cfg.AccountsAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("configuring account service: %w", err)
	}

	srv, err := server.New(provider, accountSvc, &server.Config{
		RequireState: cfg.RequireState,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	srv.SetAuditor(security.NewAuditor(logger, cfg.AuditEnabled))

	if cfg.RateLimitPerSecond > 0 {
		rl := security.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, logger)
		defer rl.Stop()
		srv.SetRateLimiter(rl)
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "authbridge",
		ServiceVersion: version,
		Enabled:        cfg.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("configuring instrumentation: %w", err)
	}
	defer func() {
		if err := inst.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()
	srv.SetInstrumentation(inst)

	handler, err := authbridge.NewHandler(srv, &authbridge.Config{
		ListenAddr:      cfg.ListenAddr,
		BaseURL:         cfg.BaseURL,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating handler: %w", err)
	}

	bridge, err := authbridge.NewBridgeServer(handler, logger)
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting auth bridge", "addr", cfg.ListenAddr, "version", version)
		errCh <- bridge.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return bridge.Shutdown(context.Background())
	}
}
