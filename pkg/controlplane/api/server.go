package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/thumbsup-team/securenas/internal/logger"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/auth"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/handlers"
)

// Server provides the admin HTTP API.
//
// The server exposes health probes plus the device lifecycle endpoints and
// supports graceful shutdown with a configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new admin API server.
//
// The token secret must be configured via config.Token.Secret or the
// SECURENAS_API_TOKEN_SECRET environment variable and be at least 32
// characters.
//
// The server is created in a stopped state; call Start to serve.
func NewServer(config APIConfig, device handlers.DeviceController) (*Server, error) {
	config.ApplyDefaults()

	secret := config.GetTokenSecret()
	if len(secret) < 32 {
		return nil, fmt.Errorf("API token secret must be at least 32 characters; set via %s env var or config", EnvTokenSecret)
	}

	tokenService, err := auth.NewTokenService(secret, config.Token.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	router := NewRouter(device, tokenService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Handler returns the configured HTTP handler (useful for tests).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server and blocks until the context is cancelled or
// an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", logger.KeyPort, s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return fmt.Errorf("API server error: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		logger.Info("Shutting down API server")
		err = s.server.Shutdown(shutdownCtx)
	})
	return err
}
