// Package delivery remembers which outbound messages the bot produced itself,
// so actions on foreign messages can be ignored and repeated actions on our
// own messages stay idempotent.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kasuganosora/engagebot/cache"
	"github.com/kasuganosora/engagebot/errs"
)

// Store is a set of (channel, message) keys. Implementations are safe for
// concurrent use.
type Store interface {
	Add(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
}

// Registry records delivery pairs in a Store.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry { return &Registry{store: store} }

func key(channelID, messageID string) string {
	return fmt.Sprintf("%d:%s:%s", len(channelID), channelID, messageID)
}

func validate(channelID, messageID string) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(messageID) == "" {
		return errs.Invalid("channel and message ids are required")
	}
	return nil
}

// Record marks the pair as produced by us. Recording twice is a no-op.
func (r *Registry) Record(ctx context.Context, channelID, messageID string) error {
	if err := validate(channelID, messageID); err != nil {
		return err
	}
	if err := r.store.Add(ctx, key(channelID, messageID)); err != nil {
		return errs.Storage("delivery.record", err)
	}
	return nil
}

// IsKnown reports whether the pair was recorded and is still retained.
func (r *Registry) IsKnown(ctx context.Context, channelID, messageID string) (bool, error) {
	if err := validate(channelID, messageID); err != nil {
		return false, err
	}
	ok, err := r.store.Contains(ctx, key(channelID, messageID))
	if err != nil {
		return false, errs.Storage("delivery.is_known", err)
	}
	return ok, nil
}

// LRUStore retains the most recently recorded pairs up to a fixed capacity.
type LRUStore struct {
	cache *lru.Cache
}

// NewLRUStore creates an LRUStore holding at most capacity pairs.
func NewLRUStore(capacity int) (*LRUStore, error) {
	if capacity <= 0 {
		capacity = 100000
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &LRUStore{cache: c}, nil
}

func (s *LRUStore) Add(_ context.Context, key string) error {
	s.cache.Add(key, struct{}{})
	return nil
}

// Contains does not refresh recency; only Add does.
func (s *LRUStore) Contains(_ context.Context, key string) (bool, error) {
	return s.cache.Contains(key), nil
}

func (s *LRUStore) Len() int { return s.cache.Len() }

// CacheStore keeps pairs in the shared cache for a retention window, so
// several processes see the same registry when the cache is Redis.
type CacheStore struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
}

func NewCacheStore(c cache.Cache, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CacheStore{cache: c, prefix: "delivery:", ttl: ttl}
}

func (s *CacheStore) Add(ctx context.Context, key string) error {
	// SetNX keeps the original retention window on repeated records.
	_, err := s.cache.SetNX(ctx, s.prefix+key, "1", s.ttl)
	return err
}

func (s *CacheStore) Contains(ctx context.Context, key string) (bool, error) {
	return s.cache.Exists(ctx, s.prefix+key)
}
