package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 256
)

// Packet is one message from the chat layer.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	UserID  int64           `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers a Packet. Events pushed by the engine use Type "event"
// and a zero Seq.
type Reply struct {
	Seq     uint64 `json:"seq,omitempty"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Session is one gateway connection. Conn is nil in tests that only drive
// the Router.
type Session struct {
	ID   string
	Conn *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}

	mu      sync.Mutex
	lastSeq uint64
	once    sync.Once
	logger  *zap.Logger
}

// NewSession wraps conn and starts its write pump.
func NewSession(conn *websocket.Conn, logger *zap.Logger) *Session {
	s := newSession(logger)
	s.Conn = conn
	go s.writePump()
	return s
}

func newSession(logger *zap.Logger) *Session {
	return &Session{
		ID:       uuid.NewString(),
		SendChan: make(chan []byte, sendBuffer),
		Done:     make(chan struct{}),
		logger:   logger,
	}
}

// acceptSeq enforces a strictly increasing seq. Zero disables the check.
func (s *Session) acceptSeq(seq uint64) bool {
	if seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// SetReadDeadline extends the read deadline.
func (s *Session) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.String("session", s.ID), zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues r without blocking. It is dropped if the buffer is full.
func (s *Session) Send(r *Reply) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("ws reply encode failed", zap.String("type", r.Type), zap.Error(err))
		return
	}
	s.SendRaw(data)
}

// SendRaw queues pre-encoded bytes without blocking.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		s.logger.Warn("send channel full, dropping message", zap.String("session", s.ID))
	}
}

// Close signals the write pump to shut down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.Done) })
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
