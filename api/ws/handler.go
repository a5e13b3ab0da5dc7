// Package ws is the WebSocket gateway a chat bot uses to drive the engine
// over one long-lived connection and receive its events.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/hook"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	router   *Router
	pubsub   cache.PubSub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
}

// NewHandler creates a new WebSocket Handler. pubsub may be nil, in which
// case no events are pushed. An empty allowedOrigins permits every origin.
func NewHandler(router *Router, pubsub cache.PubSub, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{router: router, pubsub: pubsub, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Active returns the number of open connections.
func (h *Handler) Active() int64 { return h.active.Load() }

// ServeWS handles GET /ws?user_id=<id>. With user_id set, only that user's
// events are pushed.
func (h *Handler) ServeWS(c *gin.Context) {
	var only int64
	if q := c.Query("user_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		only = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	s := NewSession(conn, h.logger)
	h.active.Add(1)
	h.logger.Info("gateway connected", zap.String("session", s.ID))

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	if h.pubsub != nil {
		if err := h.forwardEvents(ctx, s, only); err != nil {
			h.logger.Warn("event subscription failed", zap.String("session", s.ID), zap.Error(err))
		}
	}
	h.readPump(ctx, s)
}

func (h *Handler) forwardEvents(ctx context.Context, s *Session, only int64) error {
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, hook.EventsChannel)
	if err != nil {
		return err
	}
	go func() {
		defer unsub()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev hook.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if only != 0 && ev.UserID != only {
					continue
				}
				s.Send(&Reply{Type: "event", OK: true, Data: ev})
			case <-s.Done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// readPump reads packets until the connection closes.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	defer func() {
		s.Close()
		h.active.Add(-1)
		h.logger.Info("gateway disconnected", zap.String("session", s.ID))
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("session", s.ID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}
