package stmtcache

import (
	"container/list"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/poolkit/poolsource-go/tracelog"
)

// UnboundedCache is a Cache with no limit on the number of distinct statement keys.
// Idle statements are reclaimed by a background evictor goroutine that wakes every
// EvictInterval, examines up to TestsPerRun idle statements starting from the least
// recently used keys, and destroys those idle longer than MinIdleTime. Key records
// that end up with neither idle nor borrowed statements are dropped.
//
// The evictor only runs when the plan carries a positive EvictInterval; otherwise
// the cache grows until Close.
type UnboundedCache[S any] struct {
	destroy DestroyFunc[S]
	cfg     Config

	maxActive   int
	maxIdle     int
	testsPerRun int
	minIdleTime time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // *keyedEntry[S] values, least recently used key at the front
	closed  bool

	stopEvictor chan struct{}
	evictorDone chan struct{}

	idleCount   int
	activeCount int
	hits        int64
	misses      int64
	evictions   int64
}

// keyedEntry is an entry that knows its own key, so the recency list alone is
// enough to find and remove it.
type keyedEntry[S any] struct {
	key string
	entry[S]
}

func newUnboundedCache[S any](plan Plan, destroy DestroyFunc[S], cfg Config) *UnboundedCache[S] {
	c := &UnboundedCache[S]{
		destroy:     destroy,
		cfg:         cfg,
		maxActive:   plan.MaxActive,
		maxIdle:     plan.MaxIdle,
		testsPerRun: plan.TestsPerRun,
		minIdleTime: plan.MinIdleTime,
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		stopEvictor: make(chan struct{}),
	}

	if plan.EvictInterval > 0 {
		c.evictorDone = make(chan struct{})
		go c.evictLoop(plan.EvictInterval)
	}

	return c
}

func (c *UnboundedCache[S]) evictLoop(interval time.Duration) {
	defer close(c.evictorDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopEvictor:
			return
		case <-ticker.C:
			c.evictExpired(context.Background())
		}
	}
}

// evictExpired is one pass of the background evictor. It returns how many
// statements it destroyed.
func (c *UnboundedCache[S]) evictExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.minIdleTime <= 0 {
		return 0
	}

	cutoff := now().Add(-c.minIdleTime)
	unlimited := c.testsPerRun <= 0

	evicted, tested := 0, 0
	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		ke := el.Value.(*keyedEntry[S])

		// The front of the idle slice is the statement returned longest ago, so
		// the scan can stop at the first one that is still fresh.
		for len(ke.idle) > 0 && (unlimited || tested < c.testsPerRun) {
			tested++
			if !ke.idle[0].idleFrom.Before(cutoff) {
				break
			}

			is := ke.idle[0]
			ke.idle = ke.idle[1:]
			c.idleCount--
			c.evictions++
			evicted++
			c.destroyLogged(ctx, ke.key, is.stmt)
		}

		if len(ke.idle) == 0 && ke.active == 0 {
			delete(c.entries, ke.key)
			c.order.Remove(el)
		}

		if !unlimited && tested >= c.testsPerRun {
			break
		}
	}

	if evicted > 0 {
		c.cfg.log(ctx, tracelog.LogLevelDebug, "statement cache evicted idle statements",
			map[string]any{"evicted": evicted, "tested": tested})
	}

	return evicted
}

func (c *UnboundedCache[S]) Borrow(ctx context.Context, key string, prepare PrepareFunc[S]) (S, error) {
	var zero S

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	if el, ok := c.entries[key]; ok {
		c.order.MoveToBack(el)
		ke := el.Value.(*keyedEntry[S])

		if n := len(ke.idle); n > 0 {
			is := ke.idle[n-1]
			ke.idle = ke.idle[:n-1]
			ke.active++
			c.idleCount--
			c.activeCount++
			c.hits++
			c.noteActive(ctx, ke)
			c.mu.Unlock()
			return is.stmt, nil
		}

		ke.active++
		c.activeCount++
		c.misses++
		c.noteActive(ctx, ke)
		c.mu.Unlock()
		return c.prepareNew(ctx, key, prepare)
	}

	ke := &keyedEntry[S]{key: key}
	ke.active = 1
	c.entries[key] = c.order.PushBack(ke)
	c.activeCount++
	c.misses++
	c.mu.Unlock()
	return c.prepareNew(ctx, key, prepare)
}

// prepareNew runs prepare without the cache lock and rolls the bookkeeping back on
// failure.
func (c *UnboundedCache[S]) prepareNew(ctx context.Context, key string, prepare PrepareFunc[S]) (S, error) {
	stmt, err := prepare(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.activeCount--
		if el, ok := c.entries[key]; ok {
			ke := el.Value.(*keyedEntry[S])
			ke.active--
			if ke.active == 0 && len(ke.idle) == 0 {
				delete(c.entries, key)
				c.order.Remove(el)
			}
		}
		c.mu.Unlock()

		var zero S
		return zero, err
	}

	return stmt, nil
}

func (c *UnboundedCache[S]) Return(key string, stmt S) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeCount--
	if el, ok := c.entries[key]; ok {
		ke := el.Value.(*keyedEntry[S])
		ke.active--
		if c.maxIdle < 0 || len(ke.idle) < c.maxIdle {
			ke.idle = append(ke.idle, idleStmt[S]{stmt: stmt, idleFrom: now()})
			c.idleCount++
			return
		}
	}

	c.destroyLogged(context.Background(), key, stmt)
}

func (c *UnboundedCache[S]) noteActive(ctx context.Context, ke *keyedEntry[S]) {
	if c.maxActive > 0 && ke.active > c.maxActive {
		c.cfg.log(ctx, tracelog.LogLevelDebug, "statement demand exceeded maxActive",
			map[string]any{"key": ke.key, "active": ke.active, "maxActive": c.maxActive})
	}
}

func (c *UnboundedCache[S]) destroyLogged(ctx context.Context, key string, stmt S) {
	if err := c.destroy(stmt); err != nil {
		c.cfg.log(ctx, tracelog.LogLevelWarn, "statement cache failed to close statement",
			map[string]any{"key": key, "err": err})
	}
}

func (c *UnboundedCache[S]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *UnboundedCache[S]) Cap() int { return math.MaxInt }

func (c *UnboundedCache[S]) Mode() Mode { return ModeUnbounded }

func (c *UnboundedCache[S]) Stat() Stat {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stat{
		Keys:      len(c.entries),
		Idle:      c.idleCount,
		Active:    c.activeCount,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close destroys all idle statements, then stops the evictor and waits for it to
// exit. Statements still borrowed are destroyed as they are returned.
func (c *UnboundedCache[S]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var errs []error
	for el := c.order.Front(); el != nil; el = el.Next() {
		ke := el.Value.(*keyedEntry[S])
		for _, is := range ke.idle {
			c.idleCount--
			if err := c.destroy(is.stmt); err != nil {
				errs = append(errs, err)
			}
		}
		ke.idle = nil
	}
	clear(c.entries)
	c.order.Init()
	c.mu.Unlock()

	close(c.stopEvictor)
	if c.evictorDone != nil {
		<-c.evictorDone
	}

	return errors.Join(errs...)
}
