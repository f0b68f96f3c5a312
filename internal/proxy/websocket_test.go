package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/pool"
	"github.com/shehryarbajwa/renderpool/internal/ratelimit"
)

// echoLauncher hands out handles whose control URL is a websocket echo server
type echoLauncher struct {
	url string
}

func (l *echoLauncher) Launch(ctx context.Context, sessionID string) (browser.Handle, error) {
	return &echoHandle{url: l.url}, nil
}

type echoHandle struct {
	url string
}

func (h *echoHandle) ControlURL() string                                { return h.url }
func (h *echoHandle) NewPage(ctx context.Context) (browser.Page, error) { return nil, nil }
func (h *echoHandle) Ping(ctx context.Context) error                    { return nil }
func (h *echoHandle) Close() error                                      { return nil }

func newEchoBrowser(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newProxy(t *testing.T, size int) (*pool.Coordinator, string) {
	return newLimitedProxy(t, size, nil)
}

func newLimitedProxy(t *testing.T, size int, limits *ratelimit.ConcurrencyLimiter) (*pool.Coordinator, string) {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.MaxSessions = size
	cfg.QueueTimeout = 100 * time.Millisecond
	c := pool.New(cfg, &echoLauncher{url: newEchoBrowser(t)}, logger.NewNop())
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	ps := NewServer(c, limits, logger.NewNop())
	ps.slotWait = 100 * time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(ps.HandleConnect))
	t.Cleanup(srv.Close)
	return c, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandleConnect_RelaysAndReleases(t *testing.T) {
	c, url := newProxy(t, 1)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	payload := `{"id":1,"method":"Browser.getVersion"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.Equal(t, 1, c.Stats().Busy)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		st := c.Stats()
		return st.Busy == 0 && st.Idle == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleConnect_PoolExhausted(t *testing.T) {
	_, url := newProxy(t, 1)

	held, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer held.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleConnect_PoolClosed(t *testing.T) {
	c, url := newProxy(t, 1)
	require.NoError(t, c.Close(context.Background()))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleConnect_AttachCountsAgainstCallerCap(t *testing.T) {
	c, url := newLimitedProxy(t, 3, ratelimit.NewConcurrencyLimiter(1))
	p1 := http.Header{"X-Project-Id": []string{"p1"}}

	held, _, err := websocket.DefaultDialer.Dial(url, p1)
	require.NoError(t, err)
	defer held.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, p1)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1, c.Stats().Busy)

	other, _, err := websocket.DefaultDialer.Dial(url+"?projectId=p2", nil)
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, 2, c.Stats().Busy)
}
