package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/engagebot/api/rest"
	"github.com/kasuganosora/engagebot/api/sse"
	apows "github.com/kasuganosora/engagebot/api/ws"
	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/config"
	"github.com/kasuganosora/engagebot/definitions"
	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/hook"
	mw "github.com/kasuganosora/engagebot/middleware"
	"github.com/kasuganosora/engagebot/scheduler"
	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefinitionsPath is the example definitions file every test server loads.
const DefinitionsPath = "../config/definitions.example.yaml"

// TestServer wraps a real HTTP server with every transport wired to one engine.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Engine *engine.Engine
	Wallet *reward.Wallet
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
}

// NewTestServer creates a fully wired server. It mirrors the serve command.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	defs, err := definitions.Load(DefinitionsPath)
	require.NoError(t, err)
	catalog, err := defs.Catalog()
	require.NoError(t, err)

	hooks := hook.NewHookCenter()
	hooks.PublishTo(pubsub, logger)
	wallet := reward.NewWallet(db, nil, logger)
	eng, err := engine.New(config.EngineConfig{
		Claims:   map[string]config.ClaimConfig{config.DailyGift: {Period: 24 * time.Hour, Min: 100, Max: 100}},
		Delivery: config.DeliveryConfig{Backend: "cache", TTL: time.Hour},
		Lock:     config.LockConfig{Distributed: true, TTL: 5 * time.Second, Retry: 10 * time.Millisecond},
	}, engine.Deps{
		DB:      db,
		Cache:   c,
		Granter: wallet,
		Catalog: catalog,
		Hooks:   hooks,
		Logger:  logger,
	})
	require.NoError(t, err)
	_, err = defs.Seed(context.Background(), eng.Vault)
	require.NoError(t, err)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimitFromConfig(config.SecurityConfig{RateLimitRPS: 1000, RateLimitBurst: 2000}))
	apirest.Register(r, eng, sched, logger)
	r.GET("/api/v1/events", sse.NewHandler(pubsub, logger).ServeEvents)
	wsRouter := apows.NewRouter(logger)
	apows.RegisterEngine(wsRouter, eng)
	r.GET("/ws", apows.NewHandler(wsRouter, pubsub, nil, logger).ServeWS)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	url := server.URL
	return &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Engine: eng,
		Wallet: wallet,
		Server: server,
		URL:    url,
		WSURL:  "ws" + url[len("http"):] + "/ws",
	}
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body.
func (ts *TestServer) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with a JSON body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body)
}

// Get sends a GET request.
func (ts *TestServer) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil)
}

// ReadJSON reads and decodes a JSON response body into target.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- WebSocket client ---

// WSClient wraps a gateway connection. A background readLoop feeds readCh
// so a timed-out wait never poisons the connection.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    atomic.Uint64
	readCh chan readResult
	held   []apows.Reply // received while waiting for another type
}

type readResult struct {
	reply apows.Reply
	err   error
}

// ConnectWS dials the gateway. query is appended verbatim, e.g. "?user_id=7".
func (ts *TestServer) ConnectWS(t *testing.T, query string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+query, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		var r apows.Reply
		err := wc.Conn.ReadJSON(&r)
		wc.readCh <- readResult{r, err}
		if err != nil {
			return
		}
	}
}

// Send writes one packet on behalf of userID.
func (wc *WSClient) Send(msgType string, userID int64, payload any) {
	wc.t.Helper()
	pkt := apows.Packet{Seq: wc.seq.Add(1), Type: msgType, UserID: userID}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(wc.t, err)
		pkt.Payload = data
	}
	require.NoError(wc.t, wc.Conn.WriteJSON(pkt))
}

// RecvType returns the first reply of type msgType, held or incoming.
// Replies of other types are held for later calls.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) apows.Reply {
	wc.t.Helper()
	for i, r := range wc.held {
		if r.Type == msgType {
			wc.held = append(wc.held[:i], wc.held[i+1:]...)
			return r
		}
	}
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			require.NoError(wc.t, res.err, "WS recv failed while waiting for %q", msgType)
			if res.reply.Type == msgType {
				return res.reply
			}
			wc.held = append(wc.held, res.reply)
		case <-deadline:
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
			return apows.Reply{}
		}
	}
}

// Call sends a packet and waits for its result.
func (wc *WSClient) Call(msgType string, userID int64, payload any) apows.Reply {
	wc.t.Helper()
	wc.Send(msgType, userID, payload)
	return wc.RecvType(msgType+"_result", 5*time.Second)
}

// Close closes the connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// DataMap returns a reply's data as a map.
func DataMap(t *testing.T, r apows.Reply) map[string]any {
	t.Helper()
	m, ok := r.Data.(map[string]any)
	require.True(t, ok, "reply data is %T", r.Data)
	return m
}
