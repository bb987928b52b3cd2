// Package metrics exposes Prometheus instrumentation for the HTTP layer,
// the user store and the Google integrations.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const routeLabelKey ctxKey = "metrics_route"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signly_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signly_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signly_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signly_store_latency_seconds",
		Help:    "Histogram of user store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signly_oauth_token_refresh_total",
		Help: "Access token refresh attempts by result.",
	}, []string{"result"})

	calendarRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signly_calendar_api_requests_total",
		Help: "Google Calendar API calls by operation and result.",
	}, []string{"operation", "result"})

	oauthCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signly_oauth_callbacks_total",
		Help: "OAuth callback outcomes.",
	}, []string{"outcome"})
)

// Middleware records request metrics and stores the route label for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routePattern(r)
			ctx := context.WithValue(r.Context(), routeLabelKey, route)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// chi resolves the pattern while routing, so read it again afterwards.
			route = routePattern(r)
			status := ww.Status()
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStoreLatency records the latency of a user store operation.
func ObserveStoreLatency(ctx context.Context, operation string, start time.Time) {
	storeLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

// RecordTokenRefresh counts a refresh attempt; result is "success", "invalid_grant" or "error".
func RecordTokenRefresh(result string) {
	tokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordCalendarRequest counts a Calendar API call.
func RecordCalendarRequest(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	calendarRequestsTotal.WithLabelValues(operation, result).Inc()
}

// RecordOAuthCallback counts an OAuth callback outcome.
func RecordOAuthCallback(outcome string) {
	oauthCallbacksTotal.WithLabelValues(outcome).Inc()
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
