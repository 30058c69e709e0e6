// Package server exposes the HTTP surface: health and metrics endpoints,
// and the protected routes that sit behind the authentication middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mkonda/poolguard/pkg/auth"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/version"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server wraps the router and the underlying http.Server.
type Server struct {
	cfg  *config.Config
	http *http.Server
}

// Handler builds the router and wires the authentication middleware
// around the protected routes. The metrics handler is injected so the
// registry stays owned by the caller.
func Handler(cfg *config.Config, authenticator *auth.Authenticator, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(httpMetrics)

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Get("/users/me", handleWhoAmI)
		r.Get("/protected-resource", handleProtectedResource)
	})

	if cfg.Debug {
		r.Get("/debug/headers", handleDebugHeaders)
	}

	return r
}

// New wraps the router in an http.Server bound to the configured address.
func New(cfg *config.Config, authenticator *auth.Authenticator, metricsHandler http.Handler) *Server {
	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           Handler(cfg, authenticator, metricsHandler),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Run serves until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
	})
}

// handleWhoAmI echoes the authenticated principal back to the caller.
func handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		// Unreachable behind the middleware; kept for direct handler tests.
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

func handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "access granted",
		"subject": principal.Subject,
		"groups":  principal.Groups,
	})
}

// handleDebugHeaders dumps the request headers. Only routed when debug
// mode is on; must never be exposed in production.
func handleDebugHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	writeJSON(w, http.StatusOK, headers)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response body", "error", err)
	}
}
