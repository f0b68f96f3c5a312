// Package api exposes the extraction operations and pool tooling over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

const maxBodyBytes = 1 << 20

// Extractor runs one extraction request
type Extractor interface {
	Run(ctx context.Context, op models.OperationType, job models.ExtractionJob, caller models.CallerContext) models.ExtractionResult
}

// PoolAdmin is the pool surface used by the ops endpoints
type PoolAdmin interface {
	Stats() models.PoolStats
	Sessions() []models.BrowserSession
	Reclaim() int
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	extractor Extractor
	pool      PoolAdmin
	log       logger.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(extractor Extractor, pool PoolAdmin, log logger.Logger) *Handler {
	return &Handler{
		extractor: extractor,
		pool:      pool,
		log:       log,
	}
}

// Extract handles POST /v1/extract/{operation}
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	op := models.OperationType(mux.Vars(r)["operation"])
	if !op.Valid() {
		writeError(w, http.StatusNotFound, "unknown operation: "+string(op))
		return
	}

	var job models.ExtractionJob
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if job.Operation == "" {
		job.Operation = op
	}

	result := h.extractor.Run(r.Context(), op, job, callerFrom(r))

	status := http.StatusOK
	switch {
	case result.Success:
	case result.Retryable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("X-Credits-Cost", strconv.Itoa(result.CreditsCost))
	if result.Success && result.Artifact != nil {
		writeArtifact(w, result)
		return
	}
	writeJSON(w, status, result)
}

func writeArtifact(w http.ResponseWriter, result models.ExtractionResult) {
	contentType := "application/octet-stream"
	if meta := result.Metadata; meta != nil {
		if meta.ContentType != "" {
			contentType = meta.ContentType
		}
		if meta.SessionID != "" {
			w.Header().Set("X-Session-ID", meta.SessionID)
		}
		if meta.StorageRef != "" {
			w.Header().Set("X-Storage-Ref", meta.StorageRef)
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Artifact)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Artifact)
}

// PoolStats handles GET /v1/pool/stats
func (h *Handler) PoolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Stats())
}

// Cleanup handles POST /v1/pool/cleanup
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	reclaimed := h.pool.Reclaim()
	h.log.Info("Manual pool cleanup", logger.Int("reclaimed", reclaimed))
	writeJSON(w, http.StatusOK, map[string]any{
		"reclaimed": reclaimed,
		"stats":     h.pool.Stats(),
	})
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.pool.Sessions()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := make([]models.BrowserSession, 0, len(sessions))
		for _, s := range sessions {
			if string(s.State) == state {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pool":   h.pool.Stats(),
	})
}

func callerFrom(r *http.Request) models.CallerContext {
	return models.CallerContext{
		ProjectID: getProjectID(r),
		APIKeyID:  r.Header.Get("X-API-Key-ID"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
