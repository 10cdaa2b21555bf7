package stmtcache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolkit/poolsource-go/stmtcache"
)

type fakeStmt struct {
	key string
	id  int
}

// destroyRecorder remembers the keys of every statement the cache destroyed.
type destroyRecorder struct {
	mu     sync.Mutex
	closed []string
	err    error
}

func (r *destroyRecorder) destroy(s *fakeStmt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, s.key)
	return r.err
}

func (r *destroyRecorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

// preparer counts how many statements it has prepared.
type preparer struct {
	mu    sync.Mutex
	count int
}

func (p *preparer) prepare(ctx context.Context, key string) (*fakeStmt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return &fakeStmt{key: key, id: p.count}, nil
}

func (p *preparer) prepared() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func TestBoundedCacheReusesReturnedStatements(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	s1, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	c.Return("select 1", s1)

	s2, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, prep.prepared())

	stat := c.Stat()
	assert.Equal(t, int64(1), stat.Hits)
	assert.Equal(t, int64(1), stat.Misses)
	assert.Equal(t, 1, stat.Active)
	assert.Empty(t, rec.keys())
}

func TestBoundedCacheGrowsWhenAllBorrowed(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxActive: 1, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	s1, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	s2, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, prep.prepared())
	assert.Equal(t, 1, c.Len())
}

func TestBoundedCacheSweepsOldestEntriesWhenFull(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 20, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("select %d", i)
		s, err := c.Borrow(ctx, key, prep.prepare)
		require.NoError(t, err)
		c.Return(key, s)
	}
	require.Equal(t, 20, c.Len())

	// Inserting the 21st key evicts 15% of capacity: the three least recently
	// used entries.
	s, err := c.Borrow(ctx, "select 20", prep.prepare)
	require.NoError(t, err)
	c.Return("select 20", s)

	assert.Equal(t, 18, c.Len())
	assert.Equal(t, []string{"select 0", "select 1", "select 2"}, rec.keys())
	assert.Equal(t, int64(3), c.Stat().Evictions)
}

func TestBoundedCacheSweepEvictsAtLeastOne(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("select %d", i)
		s, err := c.Borrow(ctx, key, prep.prepare)
		require.NoError(t, err)
		c.Return(key, s)
	}

	// 15% of 4 rounds to zero, but the sweep must still make room for the insert.
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, []string{"select 0"}, rec.keys())
}

func TestBoundedCacheBorrowRefreshesRecency(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("select %d", i)
		s, err := c.Borrow(ctx, key, prep.prepare)
		require.NoError(t, err)
		c.Return(key, s)
	}

	// Touching the oldest key makes "select 1" the eviction candidate instead.
	s, err := c.Borrow(ctx, "select 0", prep.prepare)
	require.NoError(t, err)
	c.Return("select 0", s)

	s, err = c.Borrow(ctx, "select 4", prep.prepare)
	require.NoError(t, err)
	c.Return("select 4", s)

	assert.Equal(t, []string{"select 1"}, rec.keys())
}

func TestBoundedCacheMaxIdleZeroNeverRetains(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 0},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	s, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	c.Return("select 1", s)

	assert.Equal(t, []string{"select 1"}, rec.keys())

	_, err = c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	assert.Equal(t, 2, prep.prepared())
}

func TestBoundedCacheReturnAfterEvictionDestroys(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 2, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	ctx := context.Background()

	// Keep "select 0" borrowed while newer keys push it out of the index.
	s0, err := c.Borrow(ctx, "select 0", prep.prepare)
	require.NoError(t, err)

	for i := 1; i < 4; i++ {
		key := fmt.Sprintf("select %d", i)
		s, err := c.Borrow(ctx, key, prep.prepare)
		require.NoError(t, err)
		c.Return(key, s)
	}

	require.NotContains(t, rec.keys(), "select 0")
	c.Return("select 0", s0)
	assert.Contains(t, rec.keys(), "select 0")
	assert.Equal(t, 0, c.Stat().Active)
}

func TestBoundedCachePrepareErrorRollsBack(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	prepareErr := errors.New("prepare failed")
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)
	defer c.Close()

	_, err := c.Borrow(context.Background(), "select 1", func(ctx context.Context, key string) (*fakeStmt, error) {
		return nil, prepareErr
	})
	require.ErrorIs(t, err, prepareErr)

	stat := c.Stat()
	assert.Equal(t, 0, stat.Keys)
	assert.Equal(t, 0, stat.Active)
	assert.Equal(t, int64(1), stat.Misses)
}

func TestBoundedCacheClose(t *testing.T) {
	t.Parallel()

	var rec destroyRecorder
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)

	ctx := context.Background()

	s, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	c.Return("select 1", s)

	out, err := c.Borrow(ctx, "select 2", prep.prepare)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"select 1"}, rec.keys())

	// Closing twice is fine, and borrowing afterwards reports the closed cache.
	require.NoError(t, c.Close())
	_, err = c.Borrow(ctx, "select 3", prep.prepare)
	require.ErrorIs(t, err, stmtcache.ErrClosed)

	// A statement still out when the cache closed is destroyed on return.
	c.Return("select 2", out)
	assert.Equal(t, []string{"select 1", "select 2"}, rec.keys())
}

func TestBoundedCacheCloseReportsDestroyErrors(t *testing.T) {
	t.Parallel()

	rec := destroyRecorder{err: errors.New("close failed")}
	var prep preparer
	c := stmtcache.New[*fakeStmt](
		stmtcache.Plan{Mode: stmtcache.ModeBounded, Capacity: 4, MaxIdle: 10},
		rec.destroy, stmtcache.Config{},
	)

	ctx := context.Background()
	s, err := c.Borrow(ctx, "select 1", prep.prepare)
	require.NoError(t, err)
	c.Return("select 1", s)

	require.ErrorIs(t, c.Close(), rec.err)
}
