// File export_test exports some methods for better testing.

package stmtcache

import (
	"context"
	"time"
)

// EvictExpired runs one pass of the background evictor.
func (c *UnboundedCache[S]) EvictExpired(ctx context.Context) int {
	return c.evictExpired(ctx)
}

// SetNow replaces the clock used to stamp and age idle statements. It returns a
// function that restores the real clock.
func SetNow(fn func() time.Time) func() {
	orig := now
	now = fn
	return func() { now = orig }
}
