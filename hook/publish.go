package hook

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/engagebot/cache"
	"go.uber.org/zap"
)

// EventsChannel is the pub/sub channel engine events are published on.
const EventsChannel = "engage.events"

// Events lists every event the engine triggers.
var Events = []string{RewardGranted, MissionCompleted, CombinationUnlocked, FlowCompleted}

const publisherName = "pubsub_publisher"

// PublishTo republishes every engine event as JSON on EventsChannel. The
// handler registers with a high priority value so it runs after hooks that
// enrich the event.
func (hc *HookCenter) PublishTo(ps cache.PubSub, logger *zap.Logger) {
	publish := func(ctx context.Context, ev Event) (Event, error) {
		raw, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("encode event failed", zap.String("event", ev.Name), zap.Error(err))
			return ev, nil
		}
		if err := ps.Publish(ctx, EventsChannel, string(raw)); err != nil {
			logger.Warn("publish event failed", zap.String("event", ev.Name), zap.Error(err))
		}
		return ev, nil
	}
	for _, name := range Events {
		hc.Register(name, 1000, publisherName, publish)
	}
}
