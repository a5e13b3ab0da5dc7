package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/hook"
	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent returns the next "event:" name from the stream.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			return name
		}
	}
}

func TestServeEvents_FiltersByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	hooks := hook.NewHookCenter()
	hooks.PublishTo(ps, testutil.NopLogger())

	r := gin.New()
	r.GET("/events", NewHandler(ps, testutil.NopLogger()).ServeEvents)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?user_id=7", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	require.Equal(t, "connected", readEvent(t, body))

	_, err = hooks.Trigger(ctx, hook.Event{Name: hook.RewardGranted, UserID: 8})
	require.NoError(t, err)
	_, err = hooks.Trigger(ctx, hook.Event{Name: hook.MissionCompleted, UserID: 7})
	require.NoError(t, err)

	assert.Equal(t, hook.MissionCompleted, readEvent(t, body))
}

func TestServeEvents_BadUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	r := gin.New()
	r.GET("/events", NewHandler(ps, testutil.NopLogger()).ServeEvents)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?user_id=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
