// Package stmtcache implements the prepared statement caches attached to pooled
// connections by poolsource.
//
// A cache is described by a Plan. PlanFor derives the Plan from the statement cache
// settings carried by a driver source: caching disabled, an unbounded cache reclaimed
// by a background evictor, or a capacity-bounded cache that evicts least recently used
// entries synchronously on the insert path.
package stmtcache

import (
	"context"
	"errors"
	"time"

	"github.com/poolkit/poolsource-go/tracelog"
)

// Mode selects the cache flavor a Plan describes.
type Mode int

const (
	// ModeDisabled means statements are not cached at all.
	ModeDisabled Mode = iota

	// ModeUnbounded does not limit the number of distinct statement keys. Idle
	// statements are reclaimed by a background evictor owned by the cache.
	ModeUnbounded

	// ModeBounded limits the number of distinct statement keys to Plan.Capacity.
	// There is no background evictor; when the cache is full the least recently
	// used entries are evicted synchronously to make room.
	ModeBounded
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeUnbounded:
		return "unbounded"
	case ModeBounded:
		return "bounded"
	default:
		return "invalid"
	}
}

// Plan is a fully specified cache configuration. Construct it with PlanFor.
type Plan struct {
	Mode Mode

	// MaxActive is the expected upper bound of statements simultaneously borrowed
	// for one key. The cache grows past it on demand; crossing it is only reported
	// through the logger.
	MaxActive int

	// MaxIdle bounds the idle statements retained per key. Negative means no
	// bound, zero means idle statements are never retained.
	MaxIdle int

	// Capacity bounds the distinct statement keys (ModeBounded only).
	Capacity int

	// EvictInterval is the period of the background eviction pass (ModeUnbounded
	// only). Zero disables the evictor.
	EvictInterval time.Duration

	// TestsPerRun caps how many idle statements one eviction pass examines.
	// Non-positive means every idle statement is examined.
	TestsPerRun int

	// MinIdleTime is how long a statement must sit idle before an eviction pass
	// may reclaim it. Non-positive means idle statements are never reclaimed.
	MinIdleTime time.Duration
}

// PlanFor maps the statement cache settings of a driver source to a Plan. The three
// timing arguments are in milliseconds, matching the externalized attribute schema.
//
// When enabled is false the cache is disabled regardless of the other arguments.
// When maxCachedStatements is not positive there is no bound on distinct statement
// keys and the returned plan carries the eviction timings as given (a non-positive
// run interval leaves the unbounded cache without an evictor). Otherwise the plan is
// capacity-bounded with eviction timing disabled: the cost of eviction is paid on the
// insert path instead of by a background goroutine.
func PlanFor(enabled bool, maxActive, maxIdle, timeBetweenEvictionRunsMillis,
	numTestsPerEvictionRun, minEvictableIdleMillis, maxCachedStatements int,
) Plan {
	if !enabled {
		return Plan{Mode: ModeDisabled}
	}

	if maxCachedStatements <= 0 {
		p := Plan{
			Mode:        ModeUnbounded,
			MaxActive:   maxActive,
			MaxIdle:     maxIdle,
			TestsPerRun: numTestsPerEvictionRun,
		}
		if timeBetweenEvictionRunsMillis > 0 {
			p.EvictInterval = time.Duration(timeBetweenEvictionRunsMillis) * time.Millisecond
		}
		if minEvictableIdleMillis > 0 {
			p.MinIdleTime = time.Duration(minEvictableIdleMillis) * time.Millisecond
		}
		return p
	}

	return Plan{
		Mode:      ModeBounded,
		MaxActive: maxActive,
		MaxIdle:   maxIdle,
		Capacity:  maxCachedStatements,
	}
}

// ErrClosed is returned by Borrow after the cache has been closed.
var ErrClosed = errors.New("statement cache is closed")

// PrepareFunc prepares a new statement for key. It is called by Borrow on a cache
// miss, without any cache lock held.
type PrepareFunc[S any] func(ctx context.Context, key string) (S, error)

// DestroyFunc releases a statement the cache is done with.
type DestroyFunc[S any] func(stmt S) error

// Cache is a keyed cache of prepared statements. Borrowed statements are owned by
// the caller until handed back with Return; only idle statements are ever evicted.
// Implementations are safe for concurrent use.
type Cache[S any] interface {
	// Borrow returns an idle cached statement for key, or prepares a new one via
	// prepare. The statement must be handed back with Return when the caller is
	// done with it.
	Borrow(ctx context.Context, key string, prepare PrepareFunc[S]) (S, error)

	// Return hands a borrowed statement back. The cache retains it for reuse when
	// the key is still cached and there is idle headroom; otherwise the statement
	// is destroyed.
	Return(key string, stmt S)

	// Len reports the number of distinct statement keys currently cached.
	Len() int

	// Cap reports the maximum number of distinct statement keys the cache can hold.
	Cap() int

	// Mode reports the cache flavor.
	Mode() Mode

	// Stat returns a snapshot of the cache counters.
	Stat() Stat

	// Close destroys all idle statements and stops the background evictor, if any.
	// It is safe to call more than once.
	Close() error
}

// Stat is a point-in-time snapshot of cache activity.
type Stat struct {
	// Keys is the number of distinct statement keys currently tracked.
	Keys int

	// Idle is the number of idle statements available for reuse.
	Idle int

	// Active is the number of statements currently borrowed.
	Active int

	// Hits counts borrows served from an idle statement.
	Hits int64

	// Misses counts borrows that had to prepare a new statement.
	Misses int64

	// Evictions counts statements destroyed by the eviction policy, either the
	// background evictor or the synchronous LRU sweep.
	Evictions int64
}

// New builds the cache described by plan. It returns nil when plan.Mode is
// ModeDisabled. destroy is invoked for every statement the cache discards; a nil
// destroy is treated as a no-op.
func New[S any](plan Plan, destroy DestroyFunc[S], config Config) Cache[S] {
	if destroy == nil {
		destroy = func(S) error { return nil }
	}
	switch plan.Mode {
	case ModeUnbounded:
		return newUnboundedCache(plan, destroy, config)
	case ModeBounded:
		return newBoundedCache(plan, destroy, config)
	default:
		return nil
	}
}

// Config carries the optional collaborators a cache may use. The zero value is valid.
type Config struct {
	// Logger receives eviction and lifecycle diagnostics. nil disables logging.
	Logger tracelog.Logger
}

func (c Config) log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	if c.Logger == nil {
		return
	}

	c.Logger.Log(ctx, level, msg, data)
}

// idleStmt is one statement sitting idle in the cache, with the time it was last
// handed back.
type idleStmt[S any] struct {
	stmt     S
	idleFrom time.Time
}

// entry tracks all statements for one key: the idle ones available for reuse and a
// count of the borrowed ones.
type entry[S any] struct {
	idle   []idleStmt[S]
	active int
}

// now is replaced by tests that need deterministic idle ages.
var now = time.Now
