package stmtcache

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/poolkit/poolsource-go/tracelog"
)

// BoundedCache is a Cache that holds at most a fixed number of distinct statement
// keys. When a new key must be cached and the cache is full, the least recently
// used 15% of entries (at least one) are evicted synchronously before the insert,
// so a burst of new statements pays for eviction once rather than on every insert.
//
// There is no background goroutine; all eviction work happens on the Borrow path.
type BoundedCache[S any] struct {
	destroy DestroyFunc[S]
	cfg     Config

	maxActive int
	maxIdle   int
	capacity  int

	mu      sync.Mutex
	entries *simplelru.LRU[string, *entry[S]]
	closed  bool

	idleCount   int
	activeCount int
	hits        int64
	misses      int64
	evictions   int64
}

func newBoundedCache[S any](plan Plan, destroy DestroyFunc[S], cfg Config) *BoundedCache[S] {
	capacity := plan.Capacity
	if capacity < 1 {
		capacity = 1
	}

	// simplelru only fails on a non-positive size, which the clamp above rules out.
	entries, _ := simplelru.NewLRU[string, *entry[S]](capacity, nil)

	return &BoundedCache[S]{
		destroy:   destroy,
		cfg:       cfg,
		maxActive: plan.MaxActive,
		maxIdle:   plan.MaxIdle,
		capacity:  capacity,
		entries:   entries,
	}
}

func (c *BoundedCache[S]) Borrow(ctx context.Context, key string, prepare PrepareFunc[S]) (S, error) {
	var zero S

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	if e, ok := c.entries.Get(key); ok {
		if n := len(e.idle); n > 0 {
			is := e.idle[n-1]
			e.idle = e.idle[:n-1]
			e.active++
			c.idleCount--
			c.activeCount++
			c.hits++
			c.noteActive(ctx, key, e)
			c.mu.Unlock()
			return is.stmt, nil
		}

		// Key is cached but every statement is borrowed: grow by preparing another.
		e.active++
		c.activeCount++
		c.misses++
		c.noteActive(ctx, key, e)
		c.mu.Unlock()
		return c.prepareNew(ctx, key, prepare)
	}

	// New key. Make room first so the insert below never evicts on its own.
	if c.entries.Len() >= c.capacity {
		c.sweep(ctx)
	}
	c.entries.Add(key, &entry[S]{active: 1})
	c.activeCount++
	c.misses++
	c.mu.Unlock()
	return c.prepareNew(ctx, key, prepare)
}

// prepareNew runs prepare without the cache lock and rolls the bookkeeping back on
// failure.
func (c *BoundedCache[S]) prepareNew(ctx context.Context, key string, prepare PrepareFunc[S]) (S, error) {
	stmt, err := prepare(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.activeCount--
		if e, ok := c.entries.Peek(key); ok {
			e.active--
			if e.active == 0 && len(e.idle) == 0 {
				c.entries.Remove(key)
			}
		}
		c.mu.Unlock()

		var zero S
		return zero, err
	}

	return stmt, nil
}

func (c *BoundedCache[S]) Return(key string, stmt S) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeCount--
	if e, ok := c.entries.Peek(key); ok {
		e.active--
		if c.maxIdle < 0 || len(e.idle) < c.maxIdle {
			e.idle = append(e.idle, idleStmt[S]{stmt: stmt, idleFrom: now()})
			c.idleCount++
			return
		}
	}

	// The key was evicted while this statement was out, the cache is closed, or
	// there is no idle headroom left.
	c.destroyLogged(context.Background(), key, stmt)
}

// sweep evicts the least recently used 15% of entries, at least one. It must be
// called with c.mu held.
func (c *BoundedCache[S]) sweep(ctx context.Context) {
	n := c.capacity * 15 / 100
	if n < 1 {
		n = 1
	}

	c.cfg.log(ctx, tracelog.LogLevelDebug, "statement cache at capacity, evicting least recently used entries",
		map[string]any{"capacity": c.capacity, "entries": n})

	for i := 0; i < n; i++ {
		key, e, ok := c.entries.RemoveOldest()
		if !ok {
			break
		}
		c.evictEntry(ctx, key, e)
	}
}

// evictEntry destroys the idle statements of an entry that has been removed from
// the index. Borrowed statements are destroyed later, when they are returned and
// their key is no longer cached. Must be called with c.mu held.
func (c *BoundedCache[S]) evictEntry(ctx context.Context, key string, e *entry[S]) {
	for _, is := range e.idle {
		c.idleCount--
		c.evictions++
		c.destroyLogged(ctx, key, is.stmt)
	}
	e.idle = nil
}

func (c *BoundedCache[S]) noteActive(ctx context.Context, key string, e *entry[S]) {
	if c.maxActive > 0 && e.active > c.maxActive {
		c.cfg.log(ctx, tracelog.LogLevelDebug, "statement demand exceeded maxActive",
			map[string]any{"key": key, "active": e.active, "maxActive": c.maxActive})
	}
}

func (c *BoundedCache[S]) destroyLogged(ctx context.Context, key string, stmt S) {
	if err := c.destroy(stmt); err != nil {
		c.cfg.log(ctx, tracelog.LogLevelWarn, "statement cache failed to close statement",
			map[string]any{"key": key, "err": err})
	}
}

func (c *BoundedCache[S]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *BoundedCache[S]) Cap() int { return c.capacity }

func (c *BoundedCache[S]) Mode() Mode { return ModeBounded }

func (c *BoundedCache[S]) Stat() Stat {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stat{
		Keys:      c.entries.Len(),
		Idle:      c.idleCount,
		Active:    c.activeCount,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *BoundedCache[S]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, key := range c.entries.Keys() {
		e, _ := c.entries.Peek(key)
		for _, is := range e.idle {
			c.idleCount--
			if err := c.destroy(is.stmt); err != nil {
				errs = append(errs, err)
			}
		}
		e.idle = nil
	}
	c.entries.Purge()

	return errors.Join(errs...)
}
