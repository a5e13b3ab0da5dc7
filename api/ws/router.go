package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/kasuganosora/engagebot/errs"
	"go.uber.org/zap"
)

// HandlerFunc processes one decoded packet. The returned value becomes the
// reply's data.
type HandlerFunc func(ctx context.Context, s *Session, pkt Packet) (any, error)

// Router dispatches incoming packets to registered handlers and answers
// each with a Reply of type "<type>_result".
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers fn for msgType.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Types returns the registered message types.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch decodes raw, validates seq and runs the matching handler.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.String("session", s.ID), zap.Error(err))
		s.Send(&Reply{Type: "error", Error: "malformed packet", Code: codeInvalid})
		return
	}

	if !s.acceptSeq(pkt.Seq) {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("session", s.ID),
			zap.Uint64("seq", pkt.Seq))
		return
	}

	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, traceID)
	reply := &Reply{Seq: pkt.Seq, Type: pkt.Type + "_result", TraceID: traceID}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type", zap.String("type", pkt.Type), zap.String("session", s.ID))
		reply.Error, reply.Code = "unknown message type", codeInvalid
		s.Send(reply)
		return
	}

	data, err := fn(ctx, s, pkt)
	if err != nil {
		reply.Code = codeOf(err)
		if reply.Code == codeInternal {
			r.logger.Error("handler error",
				zap.String("type", pkt.Type),
				zap.Int64("user_id", pkt.UserID),
				zap.String("trace_id", traceID),
				zap.Error(err))
			reply.Error = "internal error"
		} else {
			reply.Error = err.Error()
		}
		s.Send(reply)
		return
	}
	reply.OK, reply.Data = true, data
	s.Send(reply)
}

const (
	codeNotFound = "not_found"
	codeConflict = "conflict"
	codeInvalid  = "invalid"
	codeInternal = "internal"
)

func codeOf(err error) string {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrSessionNotFound):
		return codeNotFound
	case errors.Is(err, errs.ErrDuplicateCode), errors.Is(err, errs.ErrSessionAlreadyActive),
		errors.Is(err, errs.ErrAlreadyAnswered):
		return codeConflict
	case errors.Is(err, errs.ErrInvalidEntry):
		return codeInvalid
	default:
		return codeInternal
	}
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
