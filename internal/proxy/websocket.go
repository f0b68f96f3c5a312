// Package proxy attaches external CDP clients to pooled browsers over a
// websocket relay.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
)

const (
	dialTimeout = 10 * time.Second
	// defaultSlotWait bounds how long an attach waits for the caller's own jobs
	defaultSlotWait = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Allocator hands out pooled sessions
type Allocator interface {
	Allocate(ctx context.Context, requestID string) (*pool.Lease, error)
}

// Server relays a client websocket to the CDP endpoint of a leased browser.
// The lease is held for as long as the client stays connected.
// Attached sessions count against the caller's concurrency cap.
type Server struct {
	pool   Allocator
	limits   *ratelimit.ConcurrencyLimiter
	slotWait time.Duration
	dialer   *websocket.Dialer
	log      logger.Logger
}

// NewServer creates a relay. limits may be nil.
func NewServer(p Allocator, limits *ratelimit.ConcurrencyLimiter, log logger.Logger) *Server {
	return &Server{
		pool:     p,
		limits:   limits,
		slotWait: defaultSlotWait,
		dialer:   websocket.DefaultDialer,
		log:      log,
	}
}

// HandleConnect leases a session, upgrades the request and proxies frames in
// both directions until either side closes
func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	projectID := callerID(r)
	log := s.log.With(logger.String("request_id", requestID), logger.String("project_id", projectID))

	waitCtx, cancelWait := context.WithTimeout(r.Context(), s.slotWait)
	releaseSlot, err := s.limits.Wait(waitCtx, projectID)
	cancelWait()
	if err != nil {
		http.Error(w, "Too many concurrent sessions for this project", http.StatusServiceUnavailable)
		return
	}
	defer releaseSlot()

	lease, err := s.pool.Allocate(r.Context(), requestID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		http.Error(w, fmt.Sprintf("No browser session available: %v", err), status)
		return
	}
	defer lease.Release()

	log = log.With(logger.String("session_id", lease.SessionID()))

	browserURL, err := lease.ControlURL()
	if err != nil {
		http.Error(w, "Session is not running", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	browserConn, _, err := s.dialer.DialContext(ctx, browserURL, nil)
	cancel()
	if err != nil {
		log.Error("Failed to connect to browser", logger.Error(err))
		http.Error(w, "Failed to connect to browser", http.StatusBadGateway)
		return
	}
	defer browserConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade connection", logger.Error(err))
		return
	}
	defer clientConn.Close()

	log.Info("Client attached to session")

	errChan := make(chan error, 2)
	go func() {
		errChan <- relay(clientConn, browserConn)
	}()
	go func() {
		errChan <- relay(browserConn, clientConn)
	}()

	err = <-errChan
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		log.Warn("Proxy error", logger.Error(err))
	}

	log.Info("Client detached from session")
}

func callerID(r *http.Request) string {
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		return projectID
	}
	return r.Header.Get("X-Project-ID")
}

// relay copies frames from src to dst until a read or write fails
func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				_ = dst.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(ce.Code, ce.Text))
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
