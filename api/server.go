/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests
  5. Metrics:    Request counters
  6. RateLimit:  Per-IP throttling (data routes)
  7. APIKey:     Shared-secret auth (data routes)

/health and /metrics stay outside the authenticated group so probes and
scrapers need no credentials.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: API key middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pedalpoints/rewards-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, apiKey string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
	}))
	r.Use(countRequests)

	// Data routes: rate limited and key protected
	r.Group(func(r chi.Router) {
		r.Use(NewRateLimiter(120, 20).Middleware)
		r.Use(RequireAPIKey(apiKey))

		r.Get("/balance", h.GetBalance)
		r.Get("/withdraw", h.Withdraw)
		r.Get("/deposit", h.Deposit)
		r.Get("/transactions", h.GetTransactions)

		r.Post("/register_chat", h.RegisterChat)
		r.Post("/unregister_chat", h.UnregisterChat)
		r.Get("/registered_chats", h.GetRegisteredChats)

		r.Get("/webhook", h.Webhook)
		r.Get("/workouts", h.GetWorkouts)
	})

	// System routes: open
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// countRequests records per-route request counters.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Label by the matched route pattern, never the raw path, so
		// 404 scans cannot mint unbounded label cardinality.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, http.StatusText(ww.Status())).Inc()
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
