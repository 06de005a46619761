package authbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// BridgeServer hosts the Handler on an HTTP server with timeouts and graceful
// shutdown.
type BridgeServer struct {
	handler *Handler
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewBridgeServer wires a Handler into a runnable HTTP server.
func NewBridgeServer(handler *Handler, logger *slog.Logger) (*BridgeServer, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &BridgeServer{
		handler: handler,
		logger:  logger,
		httpSrv: &http.Server{
			Addr:         handler.config.ListenAddr,
			Handler:      mux,
			ReadTimeout:  handler.config.ReadTimeout,
			WriteTimeout: handler.config.WriteTimeout,
		},
	}, nil
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *BridgeServer) ListenAndServe() error {
	s.logger.Info("auth bridge listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *BridgeServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.handler.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("auth bridge shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
