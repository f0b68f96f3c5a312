package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/renderpool/internal/proxy"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. metrics may be nil.
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	api := r.PathPrefix("/v1").Subrouter()

	// Extraction and attach consume pool capacity, so they are rate limited
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter))
	limited.HandleFunc("/extract/{operation}", h.Extract).Methods("POST", "OPTIONS")
	if proxyServer != nil {
		limited.HandleFunc("/sessions/connect", proxyServer.HandleConnect).Methods("GET")
	}

	// Ops endpoints (not rate limited)
	api.HandleFunc("/pool/stats", h.PoolStats).Methods("GET")
	api.HandleFunc("/pool/cleanup", h.Cleanup).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")

	r.Use(LoggingMiddleware(h.log))
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-ID, X-API-Key-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Credits-Cost, X-RateLimit-Limit, X-RateLimit-Remaining, X-Session-ID, X-Storage-Ref")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
