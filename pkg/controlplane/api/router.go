package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thumbsup-team/securenas/internal/logger"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/auth"
	apiMiddleware "github.com/thumbsup-team/securenas/pkg/controlplane/api/middleware"
	"github.com/thumbsup-team/securenas/pkg/controlplane/api/handlers"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET  /health                   - Liveness probe (unauthenticated)
//   - GET  /health/ready             - Readiness probe (unauthenticated)
//   - GET  /api/v1/device            - Device status (authenticated)
//   - GET  /api/v1/sessions          - Live session list (authenticated)
//   - POST /api/v1/device/activate   - Activate the device (authenticated)
//   - POST /api/v1/device/shutdown   - Shut the device down (authenticated)
func NewRouter(device handlers.DeviceController, tokenService *auth.TokenService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(device)
	deviceHandler := handlers.NewDeviceHandler(device)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	// API v1 routes - everything here is privileged
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiMiddleware.TokenAuth(tokenService))

		r.Get("/device", deviceHandler.Get)
		r.Get("/sessions", deviceHandler.Sessions)
		r.Post("/device/activate", deviceHandler.Activate)
		r.Post("/device/shutdown", deviceHandler.Shutdown)
	})

	return r
}

// requestLogger logs each API request with method, path, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote", r.RemoteAddr,
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
