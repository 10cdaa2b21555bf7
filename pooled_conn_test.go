package poolsource_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolsource "github.com/poolkit/poolsource-go"
	"github.com/poolkit/poolsource-go/internal/drivertest"
)

func TestPrepareWithoutCache(t *testing.T) {
	t.Parallel()

	d, src := newSource(t)
	ctx := context.Background()

	pc, err := src.Connect(ctx)
	require.NoError(t, err)
	defer pc.Close()

	stmt, err := pc.Prepare(ctx, "select 1")
	require.NoError(t, err)

	// Without a cache the statement is the driver's own and Close destroys it.
	driverStmt, ok := stmt.(*drivertest.Stmt)
	require.True(t, ok)
	require.NoError(t, stmt.Close())
	assert.True(t, driverStmt.Closed())

	_, err = pc.Prepare(ctx, "select 1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Conns()[0].PrepareCount())
}

func TestPrepareWithCacheReusesStatements(t *testing.T) {
	t.Parallel()

	d, src := newSource(t)
	require.NoError(t, src.SetPoolPreparedStatements(true))
	require.NoError(t, src.SetMaxPreparedStatements(8))

	ctx := context.Background()
	pc, err := src.Connect(ctx)
	require.NoError(t, err)

	stmt, err := pc.Prepare(ctx, "select 1")
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	conn := d.Conns()[0]

	// Close handed the statement back to the cache, not to the driver.
	assert.Equal(t, 1, conn.OpenStmts())

	stmt, err = pc.Prepare(ctx, "select 1")
	require.NoError(t, err)
	require.NoError(t, stmt.Close())
	assert.Equal(t, 1, conn.PrepareCount())

	stat, ok := pc.CacheStat()
	require.True(t, ok)
	assert.Equal(t, int64(1), stat.Hits)
	assert.Equal(t, int64(1), stat.Misses)

	// Closing the connection drains the cache and closes the physical conn.
	require.NoError(t, pc.Close())
	assert.Equal(t, 0, conn.OpenStmts())
	assert.True(t, conn.Closed())
}

func TestCachedStatementDoubleCloseIsSafe(t *testing.T) {
	t.Parallel()

	_, src := newSource(t)
	require.NoError(t, src.SetPoolPreparedStatements(true))
	require.NoError(t, src.SetMaxPreparedStatements(8))

	ctx := context.Background()
	pc, err := src.Connect(ctx)
	require.NoError(t, err)
	defer pc.Close()

	stmt, err := pc.Prepare(ctx, "select 1")
	require.NoError(t, err)
	require.NoError(t, stmt.Close())
	require.NoError(t, stmt.Close())

	stat, ok := pc.CacheStat()
	require.True(t, ok)
	assert.Equal(t, 1, stat.Idle, "double close must hand the statement back only once")
	assert.Equal(t, 0, stat.Active)
}

func TestRawAccessGate(t *testing.T) {
	t.Parallel()

	t.Run("denied by default", func(t *testing.T) {
		t.Parallel()

		_, src := newSource(t)
		pc, err := src.Connect(context.Background())
		require.NoError(t, err)
		defer pc.Close()

		_, err = pc.Raw()
		var accessErr *poolsource.UnderlyingAccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, pc.ID(), accessErr.ConnID)
	})

	t.Run("allowed when the source says so", func(t *testing.T) {
		t.Parallel()

		d, src := newSource(t)
		src.SetAllowUnderlying(true)

		pc, err := src.Connect(context.Background())
		require.NoError(t, err)
		defer pc.Close()

		raw, err := pc.Raw()
		require.NoError(t, err)
		assert.Same(t, d.Conns()[0], raw.(*drivertest.Conn))
	})
}

func TestPooledConnCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	d, src := newSource(t)
	src.SetAllowUnderlying(true)
	ctx := context.Background()

	pc, err := src.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, pc.Close())
	assert.True(t, d.Conns()[0].Closed())

	// The second close must not reach the driver again; the fake driver errors on
	// a double close.
	require.NoError(t, pc.Close())

	_, err = pc.Prepare(ctx, "select 1")
	require.ErrorIs(t, err, poolsource.ErrClosed)

	_, err = pc.Raw()
	require.ErrorIs(t, err, poolsource.ErrClosed)
}

func TestStandardLoggerUnsupported(t *testing.T) {
	t.Parallel()

	_, src := newSource(t)
	pc, err := src.Connect(context.Background())
	require.NoError(t, err)
	defer pc.Close()

	logger, err := pc.StandardLogger()
	require.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Nil(t, logger)
}

func TestBoundedCacheEvictionReachesDriver(t *testing.T) {
	t.Parallel()

	d, src := newSource(t)
	require.NoError(t, src.SetPoolPreparedStatements(true))
	require.NoError(t, src.SetMaxPreparedStatements(2))

	ctx := context.Background()
	pc, err := src.Connect(ctx)
	require.NoError(t, err)
	defer pc.Close()

	for _, query := range []string{"select 1", "select 2", "select 3"} {
		stmt, err := pc.Prepare(ctx, query)
		require.NoError(t, err)
		require.NoError(t, stmt.Close())
	}

	// Capacity 2 plus a third distinct key forces the LRU sweep, which must close
	// the evicted statement on the physical connection.
	conn := d.Conns()[0]
	assert.Equal(t, 3, conn.PrepareCount())
	assert.Equal(t, 2, conn.OpenStmts())

	stat, ok := pc.CacheStat()
	require.True(t, ok)
	assert.Equal(t, int64(1), stat.Evictions)
}

func TestEvictorWiredThroughSource(t *testing.T) {
	t.Parallel()

	d, src := newSource(t)
	require.NoError(t, src.SetPoolPreparedStatements(true))
	require.NoError(t, src.SetTimeBetweenEvictionRunsMillis(10))
	require.NoError(t, src.SetMinEvictableIdleTimeMillis(1))

	ctx := context.Background()
	pc, err := src.Connect(ctx)
	require.NoError(t, err)

	stmt, err := pc.Prepare(ctx, "select 1")
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	conn := d.Conns()[0]
	require.Eventually(t, func() bool {
		return conn.OpenStmts() == 0
	}, 5*time.Second, 10*time.Millisecond, "background evictor never reclaimed the idle statement")

	// Close stops the evictor and closes the physical connection.
	require.NoError(t, pc.Close())
	assert.True(t, conn.Closed())
}
