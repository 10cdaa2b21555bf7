package poolsource

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/poolkit/poolsource-go/stmtcache"
	"github.com/poolkit/poolsource-go/tracelog"
)

// PooledConn is one physical connection dressed up for a pooling layer: it carries
// its own statement cache and controls access to the connection underneath.
//
// A PooledConn is intended to be used by one goroutine at a time. Distinct
// connections are fully independent of each other.
type PooledConn struct {
	id              string
	conn            Conn
	cache           stmtcache.Cache[Stmt]
	allowUnderlying bool
	logger          tracelog.Logger

	mu     sync.Mutex
	closed bool
}

func newPooledConn(conn Conn, cache stmtcache.Cache[Stmt], allowUnderlying bool, logger tracelog.Logger) *PooledConn {
	return &PooledConn{
		id:              uuid.NewString(),
		conn:            conn,
		cache:           cache,
		allowUnderlying: allowUnderlying,
		logger:          logger,
	}
}

// ID returns the identifier this connection logs under.
func (pc *PooledConn) ID() string { return pc.id }

// Prepare returns a prepared statement for query. With statement caching enabled the
// statement is served from the cache when possible, and closing it hands it back to
// the cache instead of closing it for real. Without caching the statement is
// prepared directly on the connection and Close destroys it.
func (pc *PooledConn) Prepare(ctx context.Context, query string) (Stmt, error) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil, ErrClosed
	}
	pc.mu.Unlock()

	if pc.cache == nil {
		return pc.conn.Prepare(ctx, query)
	}

	stmt, err := pc.cache.Borrow(ctx, query, func(ctx context.Context, key string) (Stmt, error) {
		return pc.conn.Prepare(ctx, key)
	})
	if err != nil {
		// Close won the race against this Prepare.
		if errors.Is(err, stmtcache.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	return &cachedStmt{key: query, stmt: stmt, cache: pc.cache}, nil
}

// Raw returns the physical connection for driver-specific use. It fails with
// *UnderlyingAccessError unless the source allowed underlying access before this
// connection was opened.
func (pc *PooledConn) Raw() (Conn, error) {
	if !pc.allowUnderlying {
		return nil, &UnderlyingAccessError{ConnID: pc.id}
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return nil, ErrClosed
	}
	return pc.conn, nil
}

// CacheStat returns a snapshot of the statement cache counters. ok is false when
// statement caching is disabled for this connection.
func (pc *PooledConn) CacheStat() (stat stmtcache.Stat, ok bool) {
	if pc.cache == nil {
		return stmtcache.Stat{}, false
	}
	return pc.cache.Stat(), true
}

// StandardLogger is a declared accessor for a per-connection *log.Logger. The
// capability is not implemented; it always fails with an error matching
// errors.ErrUnsupported.
func (pc *PooledConn) StandardLogger() (*log.Logger, error) {
	return nil, fmt.Errorf("poolsource: StandardLogger: %w", errors.ErrUnsupported)
}

// Close closes the statement cache, stopping its background evictor when one is
// running, and then the physical connection. It is safe to call more than once;
// calls after the first do nothing and return nil.
func (pc *PooledConn) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	pc.mu.Unlock()

	var errs []error
	if pc.cache != nil {
		if err := pc.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing statement cache: %w", err))
		}
	}
	if err := pc.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}

	pc.log(context.Background(), tracelog.LogLevelDebug, "pooled connection closed", map[string]any{"conn": pc.id})
	return errors.Join(errs...)
}

func (pc *PooledConn) log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	if pc.logger == nil {
		return
	}
	pc.logger.Log(ctx, level, msg, data)
}

// cachedStmt hands the borrowed statement back to the cache on Close instead of
// closing it. Close is idempotent so a double close cannot corrupt the cache's
// borrow accounting.
type cachedStmt struct {
	key   string
	stmt  Stmt
	cache stmtcache.Cache[Stmt]
	once  sync.Once
}

func (cs *cachedStmt) Close() error {
	cs.once.Do(func() {
		cs.cache.Return(cs.key, cs.stmt)
	})
	return nil
}

// Unwrap returns the driver's statement underneath the cache wrapper.
func (cs *cachedStmt) Unwrap() Stmt { return cs.stmt }

// UnwrapStmt peels any cache wrappers off a statement returned by Prepare, yielding
// the driver's own statement. Statements that wrap nothing are returned as is.
func UnwrapStmt(stmt Stmt) Stmt {
	for {
		u, ok := stmt.(interface{ Unwrap() Stmt })
		if !ok {
			return stmt
		}
		stmt = u.Unwrap()
	}
}
