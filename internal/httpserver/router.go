// Package httpserver exposes the calendar connection API over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"signly/internal/httpserver/ratelimit"
	"signly/internal/metrics"
	"signly/internal/store"
)

// Deps are the components served by the router.
type Deps struct {
	Handler *Handler
	Auth    *Authenticator
	// Ready is checked by /readyz; nil means always ready.
	Ready store.Pinger
	// OAuthLimiter throttles the /calendar/oauth routes; nil disables it.
	OAuthLimiter *ratelimit.IPRateLimiter
	// MCP is mounted at /mcp behind the session middleware when set.
	MCP               http.Handler
	PrometheusEnabled bool
}

// NewRouter wires all HTTP routes.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := d.Ready.Ping(ctx); err != nil {
				logRequest(r, "[WARN]", "readiness check failed", err)
				http.Error(w, "unready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if d.PrometheusEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	h := d.Handler
	r.Route("/calendar", func(r chi.Router) {
		r.Route("/oauth", func(r chi.Router) {
			if d.OAuthLimiter != nil {
				r.Use(d.OAuthLimiter.Middleware())
			}
			r.Get("/callback", h.Callback)

			r.Group(func(r chi.Router) {
				r.Use(d.Auth.RequireSession)
				r.Get("/initiate", h.Initiate)
				r.Get("/status", h.Status)
				r.Post("/disconnect", h.Disconnect)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.RequireSession)
			r.Get("/calendars", h.Calendars)
			r.Get("/events", h.Events)
		})
	})

	if d.MCP != nil {
		r.With(d.Auth.RequireSession).Handle("/mcp", d.MCP)
	}

	return r
}
