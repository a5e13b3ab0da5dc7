package hook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/engagebot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishTo(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	ch, cancel, err := ps.Subscribe(context.Background(), EventsChannel)
	require.NoError(t, err)
	defer cancel()

	hc := NewHookCenter()
	hc.PublishTo(ps, testutil.NopLogger())
	_, err = hc.Trigger(context.Background(), Event{
		Name:   CombinationUnlocked,
		UserID: 3,
		Data:   map[string]any{"reward_code": "R1"},
	})
	require.NoError(t, err)

	select {
	case msg := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, CombinationUnlocked, ev.Name)
		assert.Equal(t, int64(3), ev.UserID)
		assert.Equal(t, "R1", ev.Data["reward_code"])
		assert.False(t, ev.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not published")
	}

	hc.UnregisterAll(publisherName)
	_, err = hc.Trigger(context.Background(), Event{Name: RewardGranted, UserID: 3})
	require.NoError(t, err)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}
