// Package hook lets operators react to engagement events (rewards granted,
// missions completed, combinations unlocked, flows finished).
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInterrupt signals that a handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

const (
	RewardGranted       = "reward_granted"
	MissionCompleted    = "mission_completed"
	CombinationUnlocked = "combination_unlocked"
	FlowCompleted       = "flow_completed"
)

// Event is the payload carried through a handler chain.
type Event struct {
	Name   string         `json:"name"`
	UserID int64          `json:"user_id"`
	At     time.Time      `json:"at"`
	Data   map[string]any `json:"data,omitempty"`
}

// HookFn handles an event. Returning ErrInterrupt stops the chain; any other
// error is ignored and the next handler runs with the returned event.
type HookFn func(ctx context.Context, ev Event) (Event, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event with the given priority (lower runs first).
// name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	return entries[:n]
}

// Trigger runs all hooks registered for ev.Name in priority order.
// A zero ev.At is stamped with the current time.
func (hc *HookCenter) Trigger(ctx context.Context, ev Event) (Event, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[ev.Name]))
	copy(entries, hc.hooks[ev.Name])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := e.fn(ctx, ev)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err == nil {
			ev = out
		}
	}
	return ev, nil
}
