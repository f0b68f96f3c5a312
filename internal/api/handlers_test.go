package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
	"github.com/shehryarbajwa/renderpool/pkg/models"
)

type stubExtractor struct {
	mu     sync.Mutex
	result models.ExtractionResult
	jobs   []models.ExtractionJob
	caller models.CallerContext
}

func (s *stubExtractor) Run(ctx context.Context, op models.OperationType, job models.ExtractionJob, caller models.CallerContext) models.ExtractionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.caller = caller
	return s.result
}

type stubPool struct {
	reclaimed int
	sessions  []models.BrowserSession
}

func (p *stubPool) Stats() models.PoolStats {
	return models.PoolStats{Size: 2, Idle: 1, Busy: 1}
}

func (p *stubPool) Sessions() []models.BrowserSession { return p.sessions }

func (p *stubPool) Reclaim() int {
	p.reclaimed++
	return 1
}

func newTestRouter(ext *stubExtractor, pool *stubPool, limiter *ratelimit.Limiter) http.Handler {
	h := NewHandler(ext, pool, logger.NewNop())
	return h.SetupRoutes(nil, limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("renderpool_pool_size 2\n"))
	}))
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestExtract_Success(t *testing.T) {
	ext := &stubExtractor{result: models.Succeeded("# Title", &models.Metadata{URL: "https://example.com", WordCount: 1}, 1)}
	router := newTestRouter(ext, &stubPool{}, nil)

	rec := do(t, router, http.MethodPost, "/v1/extract/markdown",
		`{"url":"https://example.com"}`, map[string]string{"X-Project-ID": "proj-1", "X-API-Key-ID": "key-9"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Credits-Cost"))

	var got models.ExtractionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "# Title", got.Data)
	assert.Equal(t, 1, got.CreditsCost)

	require.Len(t, ext.jobs, 1)
	assert.Equal(t, models.OperationMarkdown, ext.jobs[0].Operation)
	assert.Equal(t, "https://example.com", ext.jobs[0].URL)
	assert.Equal(t, models.CallerContext{ProjectID: "proj-1", APIKeyID: "key-9"}, ext.caller)
}

func TestExtract_FailureStatus(t *testing.T) {
	cases := map[string]struct {
		result models.ExtractionResult
		status int
	}{
		"retryable": {models.Failed("pool exhausted", true), http.StatusServiceUnavailable},
		"terminal":  {models.Failed("navigation failed", false), http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newTestRouter(&stubExtractor{result: tc.result}, &stubPool{}, nil)
			rec := do(t, router, http.MethodPost, "/v1/extract/content", `{"url":"https://example.com"}`, nil)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "0", rec.Header().Get("X-Credits-Cost"))

			var got models.ExtractionResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.False(t, got.Success)
			assert.Equal(t, tc.result.Error, got.Error)
		})
	}
}

func TestExtract_BinaryArtifact(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	result := models.Succeeded(nil, &models.Metadata{ContentType: "image/png", SessionID: "sess-1"}, 1)
	result.Artifact = png
	router := newTestRouter(&stubExtractor{result: result}, &stubPool{}, nil)

	rec := do(t, router, http.MethodPost, "/v1/extract/screenshot",
		`{"url":"https://example.com","encoding":"binary"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "sess-1", rec.Header().Get("X-Session-ID"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestExtract_BadRequests(t *testing.T) {
	ext := &stubExtractor{}
	router := newTestRouter(ext, &stubPool{}, nil)

	rec := do(t, router, http.MethodPost, "/v1/extract/crawl", `{"url":"https://example.com"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/extract/content", `{"url":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, ext.jobs)
}

func TestExtract_OperationMismatchPassedThrough(t *testing.T) {
	ext := &stubExtractor{result: models.Failed("invalid job", false)}
	router := newTestRouter(ext, &stubPool{}, nil)

	do(t, router, http.MethodPost, "/v1/extract/pdf", `{"operation":"links","url":"https://example.com"}`, nil)

	require.Len(t, ext.jobs, 1)
	assert.Equal(t, models.OperationLinks, ext.jobs[0].Operation)
}

func TestRateLimitMiddleware(t *testing.T) {
	ext := &stubExtractor{result: models.Succeeded("ok", &models.Metadata{}, 1)}
	router := newTestRouter(ext, &stubPool{}, ratelimit.NewLimiter(100, 2))
	headers := map[string]string{"X-Project-ID": "proj-1"}

	for i := range 2 {
		rec := do(t, router, http.MethodPost, "/v1/extract/content", `{"url":"https://example.com"}`, headers)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do(t, router, http.MethodPost, "/v1/extract/content", `{"url":"https://example.com"}`, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "100 requests per hour")

	// other projects and anonymous callers are unaffected
	rec = do(t, router, http.MethodPost, "/v1/extract/content?projectId=proj-2", `{"url":"https://example.com"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/v1/extract/content", `{"url":"https://example.com"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// ops endpoints are not rate limited
	rec = do(t, router, http.MethodGet, "/v1/pool/stats", "", headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPoolEndpoints(t *testing.T) {
	pool := &stubPool{sessions: []models.BrowserSession{
		{ID: "a", Slot: 0, State: models.StateIdle},
		{ID: "b", Slot: 1, State: models.StateBusy},
	}}
	router := newTestRouter(&stubExtractor{}, pool, nil)

	rec := do(t, router, http.MethodGet, "/v1/pool/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.PoolStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, models.PoolStats{Size: 2, Idle: 1, Busy: 1}, stats)

	rec = do(t, router, http.MethodPost, "/v1/pool/cleanup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, pool.reclaimed)
	assert.Contains(t, rec.Body.String(), `"reclaimed":1`)

	rec = do(t, router, http.MethodGet, "/v1/sessions?state=BUSY", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []models.BrowserSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "b", sessions[0].ID)

	rec = do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renderpool_pool_size")
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&stubExtractor{}, &stubPool{}, nil)

	rec := do(t, router, http.MethodOptions, "/v1/extract/pdf", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
