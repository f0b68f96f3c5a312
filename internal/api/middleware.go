package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
)

// RateLimitMiddleware enforces the per-project hourly request budget
func RateLimitMiddleware(limiter *ratelimit.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			projectID := getProjectID(r)

			if projectID == "" || limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(limiter.PerHour())
			if !limiter.Allow(projectID) {
				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests, fmt.Sprintf(
					"Rate limit exceeded. Maximum %d requests per hour per project.", limiter.PerHour()))
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(projectID)))

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs one line per request
func LoggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("HTTP request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", rec.status),
				logger.Duration("elapsed", time.Since(start)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes websocket upgrades through to the underlying connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// getProjectID reads the caller's project from the query or header
func getProjectID(r *http.Request) string {
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		return projectID
	}
	return r.Header.Get("X-Project-ID")
}
