package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_GivesUpOnStalledEndpoint(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	b, err := connect(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, b)
	assert.Less(t, time.Since(start), 2*time.Second)
}
