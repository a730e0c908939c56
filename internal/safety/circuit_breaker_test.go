package safety

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

func testBreakerBounds() protocol.BreakerBounds {
	return protocol.BreakerBounds{
		OracleFailureThreshold: 3,
		MaxTradesPerWindow:     5,
		MaxNotionalPerWindow:   1_000_000,
		ActivityWindow:         time.Hour,
		Cooldown:               time.Hour,
	}
}

func newTestBreaker(t *testing.T, clock *fakeClock) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(store.NewMemoryStore(), zap.NewNop()).WithClock(clock.Now)
	require.NoError(t, cb.Init(context.Background()))
	return cb
}

// TestCircuitBreaker_StartsNormal tests the initial state admits operations
func TestCircuitBreaker_StartsNormal(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	require.NoError(t, cb.Check(context.Background()))
}

// TestCircuitBreaker_TripsOnOracleFailures tests the consecutive failure threshold
func TestCircuitBreaker_TripsOnOracleFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	bounds := testBreakerBounds()
	ctx := context.Background()
	cause := fmt.Errorf("no fresh samples")

	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.Check(ctx))

	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	err := cb.Check(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCircuitBreakerTripped))

	state, _, err := cb.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, TripOracleFailures, state.Reason)
	assert.Equal(t, clock.Now().Add(bounds.Cooldown), state.CooldownUntil)
}

// TestCircuitBreaker_SuccessResetsFailureCount tests that a success clears the streak
func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	bounds := testBreakerBounds()
	ctx := context.Background()
	cause := fmt.Errorf("stale")

	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.RecordOracleSuccess(ctx))

	// The streak restarts, so two more failures stay under the threshold.
	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", cause))
	require.NoError(t, cb.Check(ctx))
}

// TestCircuitBreaker_TripsOnTradeCount tests the activity count ceiling
func TestCircuitBreaker_TripsOnTradeCount(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	bounds := testBreakerBounds()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 100))
		require.NoError(t, cb.Check(ctx))
	}

	require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 100))
	err := cb.Check(ctx)
	assert.True(t, errors.IsKind(err, errors.KindCircuitBreakerTripped))
}

// TestCircuitBreaker_TripsOnNotional tests the activity notional ceiling
func TestCircuitBreaker_TripsOnNotional(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	bounds := testBreakerBounds()
	ctx := context.Background()

	require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 900_000))
	require.NoError(t, cb.Check(ctx))

	require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 200_000))
	err := cb.Check(ctx)
	assert.True(t, errors.IsKind(err, errors.KindCircuitBreakerTripped))
}

// TestCircuitBreaker_WindowRollsOver tests that activity resets each window
func TestCircuitBreaker_WindowRollsOver(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	bounds := testBreakerBounds()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 100))
	}

	clock.Advance(bounds.ActivityWindow + time.Second)
	require.NoError(t, cb.RecordTradeActivity(ctx, bounds, 100))
	require.NoError(t, cb.Check(ctx))
}

// TestCircuitBreaker_CooldownAutoReset tests automatic recovery after the cooldown
func TestCircuitBreaker_CooldownAutoReset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	bounds := testBreakerBounds()
	ctx := context.Background()

	require.NoError(t, cb.Trip(ctx, bounds, TripEmergencyPause, "drill"))
	assert.True(t, errors.IsKind(cb.Check(ctx), errors.KindCircuitBreakerTripped))

	clock.Advance(bounds.Cooldown - time.Second)
	assert.True(t, errors.IsKind(cb.Check(ctx), errors.KindCircuitBreakerTripped))

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Check(ctx))

	state, _, err := cb.State(ctx)
	require.NoError(t, err)
	assert.False(t, state.Tripped)
}

// TestCircuitBreaker_ManualReset tests the multisig-driven reset path
func TestCircuitBreaker_ManualReset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	bounds := testBreakerBounds()
	ctx := context.Background()

	require.NoError(t, cb.Trip(ctx, bounds, TripTradeActivity, "ceiling"))
	assert.Error(t, cb.Check(ctx))

	require.NoError(t, cb.Reset(ctx))
	require.NoError(t, cb.Check(ctx))
}

// TestCircuitBreaker_FailuresIgnoredWhileTripped tests that counters freeze after a trip
func TestCircuitBreaker_FailuresIgnoredWhileTripped(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	bounds := testBreakerBounds()
	ctx := context.Background()

	require.NoError(t, cb.Trip(ctx, bounds, TripOracleFailures, "initial"))
	state, _, err := cb.State(ctx)
	require.NoError(t, err)
	trippedAt := state.TrippedAt

	clock.Advance(time.Minute)
	require.NoError(t, cb.RecordOracleFailure(ctx, bounds, "BTCUSDT", fmt.Errorf("still down")))

	state, _, err = cb.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, trippedAt, state.TrippedAt)
}
