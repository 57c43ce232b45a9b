package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/folio/internal/profile"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	rec profile.Record
	at  time.Time
}

// Cached wraps a Gateway with a TTL cache. Concurrent misses for the same key
// share one backend call. Only successful lookups are cached.
type Cached struct {
	next  Gateway
	clock Clock
	ttl   time.Duration
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
	gen     uint64              // bumped by Invalidate
	loading map[string]struct{} // keys with a load started in the current gen
}

// NewCached creates a Cached gateway with the given TTL.
func NewCached(next Gateway, ttl time.Duration) *Cached {
	return NewCachedWithClock(next, realClock{}, ttl)
}

// NewCachedWithClock creates a Cached gateway with a custom clock (for testing).
func NewCachedWithClock(next Gateway, clock Clock, ttl time.Duration) *Cached {
	return &Cached{
		next:    next,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		loading: make(map[string]struct{}),
	}
}

func (c *Cached) GetCurrentProfile(ctx context.Context) (profile.Record, error) {
	token, ok := SessionFrom(ctx)
	if !ok {
		return c.next.GetCurrentProfile(ctx)
	}
	return c.lookup(ctx, "me:"+token, c.next.GetCurrentProfile)
}

func (c *Cached) GetProfileByUsername(ctx context.Context, username string) (profile.Record, error) {
	return c.lookup(ctx, "user:"+username, func(ctx context.Context) (profile.Record, error) {
		return c.next.GetProfileByUsername(ctx, username)
	})
}

// UpdateSelectedTemplate forwards the update and drops every cached record,
// since the session's username is not known without a lookup.
func (c *Cached) UpdateSelectedTemplate(ctx context.Context, id string) error {
	if err := c.next.UpdateSelectedTemplate(ctx, id); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate drops all cached records. Loads already in flight still answer
// their callers but are not cached, and later lookups start a fresh load.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.gen++
	for key := range c.loading {
		c.group.Forget(key)
	}
	c.loading = make(map[string]struct{})
}

// lookup serves key from the cache or loads it once for all concurrent
// callers. The load runs detached from any single caller's cancellation and
// is bounded by the backend client's timeout. A caller whose ctx ends stops
// waiting without failing the others.
func (c *Cached) lookup(ctx context.Context, key string, load func(context.Context) (profile.Record, error)) (profile.Record, error) {
	// Fast path: read lock for cache hit.
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(e.at.Add(c.ttl)) {
		return cloneRecord(e.rec), nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gen
		c.loading[key] = struct{}{}
		c.mu.Unlock()

		rec, err := load(loadCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return rec, err
		}
		delete(c.loading, key)
		if err != nil {
			return nil, err
		}
		c.entries[key] = cacheEntry{rec: rec, at: c.clock.Now()}
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRecord(res.Val.(profile.Record)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func cloneRecord(r profile.Record) profile.Record {
	if r == nil {
		return nil
	}
	return profile.Record(cloneValue(map[string]any(r)).(map[string]any))
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, x := range val {
			cp[k] = cloneValue(x)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, x := range val {
			cp[i] = cloneValue(x)
		}
		return cp
	default:
		return val
	}
}
