package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// TestRateLimiter_AdmitsWithinLimit tests admissions up to the window limit
func TestRateLimiter_AdmitsWithinLimit(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	limit := protocol.RateLimit{Limit: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.TryAdmit(context.Background(), "admin_change", "", limit))
	}
}

// TestRateLimiter_RejectsSixthInWindow tests that the call after the limit fails
func TestRateLimiter_RejectsSixthInWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	limit := protocol.RateLimit{Limit: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.TryAdmit(ctx, "admin_change", "", limit))
	}

	err := rl.TryAdmit(ctx, "admin_change", "", limit)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRateLimitExceeded))
}

// TestRateLimiter_WindowSlides tests that old admissions expire out of the window
func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	limit := protocol.RateLimit{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))
	clock.Advance(30 * time.Second)
	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))

	err := rl.TryAdmit(ctx, "open_trade", "alice", limit)
	assert.True(t, errors.IsKind(err, errors.KindRateLimitExceeded))

	// The first admission falls out of the window.
	clock.Advance(31 * time.Second)
	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))
}

// TestRateLimiter_ScopesAreIndependent tests that budgets are per scope
func TestRateLimiter_ScopesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	limit := protocol.RateLimit{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))
	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "bob", limit))

	err := rl.TryAdmit(ctx, "open_trade", "alice", limit)
	assert.True(t, errors.IsKind(err, errors.KindRateLimitExceeded))
}

// TestRateLimiter_ZeroLimitIsUnlimited tests that an unconfigured class admits everything
func TestRateLimiter_ZeroLimitIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop())

	for i := 0; i < 100; i++ {
		require.NoError(t, rl.TryAdmit(context.Background(), "anything", "", protocol.RateLimit{}))
	}
}

// TestRateLimiter_Usage tests the read-only usage count
func TestRateLimiter_Usage(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	limit := protocol.RateLimit{Limit: 10, Window: time.Minute}
	ctx := context.Background()

	count, err := rl.Usage(ctx, "open_trade", "alice", limit)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))
	require.NoError(t, rl.TryAdmit(ctx, "open_trade", "alice", limit))

	count, err = rl.Usage(ctx, "open_trade", "alice", limit)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
