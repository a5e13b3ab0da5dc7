package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/mission"
)

type missionView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RewardPoints int64  `json:"reward_points"`
}

func missionViews(ms []mission.Mission) []missionView {
	out := make([]missionView, 0, len(ms))
	for _, m := range ms {
		out = append(out, missionView{ID: m.ID, Name: m.Name, RewardPoints: m.RewardPoints})
	}
	return out
}

func decode(pkt Packet, v any) error {
	if len(pkt.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(pkt.Payload, v); err != nil {
		return errs.Invalid("payload: %v", err)
	}
	return nil
}

// userScoped rejects packets without a positive user_id.
func userScoped(fn func(ctx context.Context, userID int64, pkt Packet) (any, error)) HandlerFunc {
	return func(ctx context.Context, _ *Session, pkt Packet) (any, error) {
		if pkt.UserID <= 0 {
			return nil, errs.Invalid("user_id is required")
		}
		return fn(ctx, pkt.UserID, pkt)
	}
}

// RegisterEngine binds every gateway message type to its engine call.
func RegisterEngine(r *Router, eng *engine.Engine) {
	r.On("ping", func(context.Context, *Session, Packet) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	r.On("claim_gift", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		return eng.ClaimGift(ctx, uid)
	}))
	r.On("gift_status", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		return eng.GiftStatus(ctx, uid)
	}))

	r.On("submit_hint", userScoped(func(ctx context.Context, uid int64, pkt Packet) (any, error) {
		var req struct {
			Hint string `json:"hint"`
		}
		if err := decode(pkt, &req); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Hint) == "" {
			return nil, errs.Invalid("hint is required")
		}
		unlocked, err := eng.SubmitHint(ctx, uid, req.Hint)
		if err != nil {
			return nil, err
		}
		if unlocked == nil {
			unlocked = []string{}
		}
		return map[string]any{"unlocked": unlocked}, nil
	}))

	r.On("evaluate_unlocks", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		unlocked, err := eng.EvaluateUnlocks(ctx, uid)
		if err != nil {
			return nil, err
		}
		if unlocked == nil {
			unlocked = []string{}
		}
		return map[string]any{"unlocked": unlocked}, nil
	}))

	r.On("track", userScoped(func(ctx context.Context, uid int64, pkt Packet) (any, error) {
		var req struct {
			Counter string `json:"counter"`
			Delta   int64  `json:"delta"`
		}
		if err := decode(pkt, &req); err != nil {
			return nil, err
		}
		if req.Delta == 0 {
			req.Delta = 1
		}
		v, err := eng.Track(ctx, uid, req.Counter, req.Delta)
		if err != nil {
			return nil, err
		}
		return map[string]any{"counter": req.Counter, "value": v}, nil
	}))

	r.On("check_missions", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		done, err := eng.CheckMissions(ctx, uid)
		if err != nil {
			return nil, err
		}
		return map[string]any{"completed": missionViews(done)}, nil
	}))
	r.On("list_missions", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		active, err := eng.ListMissions(ctx, uid)
		if err != nil {
			return nil, err
		}
		return map[string]any{"missions": missionViews(active)}, nil
	}))

	r.On("start_flow", userScoped(func(ctx context.Context, uid int64, pkt Packet) (any, error) {
		var req struct {
			Kind string `json:"kind"`
		}
		if err := decode(pkt, &req); err != nil {
			return nil, err
		}
		return eng.StartFlow(ctx, uid, req.Kind)
	}))
	r.On("flow_input", userScoped(func(ctx context.Context, uid int64, pkt Packet) (any, error) {
		var req struct {
			Input string `json:"input"`
		}
		if err := decode(pkt, &req); err != nil {
			return nil, err
		}
		return eng.SubmitFlowInput(ctx, uid, req.Input)
	}))
	r.On("cancel_flow", userScoped(func(ctx context.Context, uid int64, _ Packet) (any, error) {
		if err := eng.CancelFlow(ctx, uid); err != nil {
			return nil, err
		}
		return map[string]bool{"cancelled": true}, nil
	}))

	r.On("record_delivery", func(ctx context.Context, _ *Session, pkt Packet) (any, error) {
		var req deliveryRequest
		if err := req.decode(pkt); err != nil {
			return nil, err
		}
		if err := eng.RecordOutboundMessage(ctx, req.ChannelID, req.MessageID); err != nil {
			return nil, err
		}
		return map[string]bool{"recorded": true}, nil
	})
	r.On("is_delivery", func(ctx context.Context, _ *Session, pkt Packet) (any, error) {
		var req deliveryRequest
		if err := req.decode(pkt); err != nil {
			return nil, err
		}
		known, err := eng.IsOutboundMessage(ctx, req.ChannelID, req.MessageID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"known": known}, nil
	})
}

type deliveryRequest struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

func (d *deliveryRequest) decode(pkt Packet) error {
	if err := decode(pkt, d); err != nil {
		return err
	}
	if d.ChannelID == "" || d.MessageID == "" {
		return errs.Invalid("channel_id and message_id are required")
	}
	return nil
}
