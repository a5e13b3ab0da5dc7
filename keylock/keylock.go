// Package keylock serializes work per key. Claims lock on (user, claim key),
// hint submissions and mission checks lock on the user.
package keylock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/engagebot/cache"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Locker grants exclusive access to a key until the returned unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are reference counted and removed
// once no goroutine holds or waits on them.
type Local struct {
	locks *xsync.MapOf[string, *lockEntry]
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{locks: xsync.NewMapOf[string, *lockEntry]()}
}

func (l *Local) acquire(key string) *lockEntry {
	e, _ := l.locks.Compute(key, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			old = &lockEntry{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})
	return e
}

func (l *Local) release(key string) {
	l.locks.Compute(key, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}
	return func() {
		<-e.sem
		l.release(key)
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (l *Local) Len() int { return l.locks.Size() }

// Distributed is a Locker backed by the shared cache, for running several
// engine processes against one database.
type Distributed struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewDistributed creates a cache-backed Locker. ttl bounds how long a crashed
// holder can block a key.
func NewDistributed(c cache.Cache, ttl, retry time.Duration, logger *zap.Logger) *Distributed {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &Distributed{cache: c, prefix: "lock:", ttl: ttl, retry: retry, logger: logger}
}

// Lock polls SetNX until the key is acquired or ctx is done.
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	k := d.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(d.retry)
	defer ticker.Stop()
	for {
		ok, err := d.cache.SetNX(ctx, k, token, d.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := d.cache.DelIfEquals(ctx, k, token)
		if err != nil {
			d.logger.Warn("keylock release failed", zap.String("key", key), zap.Error(err))
			return
		}
		if !released {
			d.logger.Warn("keylock expired before release", zap.String("key", key))
		}
	}, nil
}
