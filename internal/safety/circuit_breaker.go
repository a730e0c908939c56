package safety

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/mathx"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

const breakerComponent = "circuit_breaker"

// TripReason records why the breaker tripped.
type TripReason string

const (
	TripOracleFailures TripReason = "oracle_failures"
	TripTradeActivity  TripReason = "trade_activity"
	TripEmergencyPause TripReason = "emergency_pause"
)

// BreakerState is the persisted circuit-breaker state machine: Normal
// (Tripped == false) or Tripped with a recorded reason and cooldown. One
// instance guards the whole protocol. The failure counters and the activity
// window live on the same record so a trip decision and the observation that
// caused it commit atomically.
type BreakerState struct {
	Tripped       bool       `json:"tripped"`
	Reason        TripReason `json:"reason,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	TrippedAt     time.Time  `json:"tripped_at,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`

	// Consecutive oracle consensus failures since the last success.
	OracleFailures int `json:"oracle_failures,omitempty"`

	// Trade activity accounting for the current window.
	WindowStart    time.Time `json:"window_start,omitempty"`
	WindowTrades   int       `json:"window_trades,omitempty"`
	WindowNotional uint64    `json:"window_notional,omitempty"`
}

// Normal reports whether the breaker currently admits risk-taking
// operations. The cooldown expiring returns the breaker to Normal even
// before the state record is rewritten.
func (s *BreakerState) Normal(now time.Time) bool {
	return !s.Tripped || !now.Before(s.CooldownUntil)
}

// CircuitBreaker observes oracle outcomes and trade activity, and trips to a
// halted state that blocks new trade openings and sensitive config changes.
// All writes go through compare-and-set so concurrent executors cannot lose
// a trip.
type CircuitBreaker struct {
	store store.EntityStore
	now   func() time.Time
	log   *zap.Logger
}

// NewCircuitBreaker creates a breaker over the given store.
func NewCircuitBreaker(s store.EntityStore, log *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		store: s,
		now:   time.Now,
		log:   log.Named(breakerComponent),
	}
}

// WithClock overrides the time source. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Init writes the initial Normal state. Called once at protocol init.
func (cb *CircuitBreaker) Init(ctx context.Context) error {
	_, err := store.PutJSON(ctx, cb.store, protocol.BreakerKey, &BreakerState{}, store.CreateVersion)
	return err
}

// State returns the current breaker state snapshot and its version.
func (cb *CircuitBreaker) State(ctx context.Context) (BreakerState, uint64, error) {
	var state BreakerState
	version, err := store.GetJSON(ctx, cb.store, protocol.BreakerKey, &state)
	if err != nil {
		return BreakerState{}, 0, err
	}
	return state, version, nil
}

// Check fails with CircuitBreakerTripped while the breaker is tripped and
// the cooldown has not elapsed. Once the cooldown expires the breaker
// resets itself automatically on the next check.
func (cb *CircuitBreaker) Check(ctx context.Context) error {
	state, version, err := cb.State(ctx)
	if err != nil {
		return err
	}
	now := cb.now()
	if !state.Tripped {
		return nil
	}
	if now.Before(state.CooldownUntil) {
		return errors.Newf(errors.KindCircuitBreakerTripped, breakerComponent, "check",
			"tripped (%s) until %s", state.Reason, state.CooldownUntil.Format(time.RFC3339))
	}

	// Cooldown elapsed: clear the trip. A conflict means someone else
	// already rewrote the state; the next check re-reads it.
	cleared := BreakerState{}
	if _, err := store.PutJSON(ctx, cb.store, protocol.BreakerKey, &cleared, version); err != nil {
		if errors.IsKind(err, errors.KindConcurrencyConflict) {
			return cb.Check(ctx)
		}
		return err
	}
	cb.log.Info("cooldown elapsed, breaker back to normal", zap.String("reason", string(state.Reason)))
	return nil
}

// RecordOracleFailure counts a consensus failure toward the trip threshold
// and trips the breaker when the threshold is reached.
func (cb *CircuitBreaker) RecordOracleFailure(ctx context.Context, bounds protocol.BreakerBounds, feedID string, cause error) error {
	return cb.mutate(ctx, func(state *BreakerState) error {
		if state.Tripped {
			return nil
		}
		state.OracleFailures++
		if bounds.OracleFailureThreshold > 0 && state.OracleFailures >= bounds.OracleFailureThreshold {
			cb.trip(state, bounds, TripOracleFailures, feedID+": "+cause.Error())
		}
		return nil
	})
}

// RecordOracleSuccess resets the consecutive failure count.
func (cb *CircuitBreaker) RecordOracleSuccess(ctx context.Context) error {
	return cb.mutate(ctx, func(state *BreakerState) error {
		if state.OracleFailures == 0 {
			return nil
		}
		state.OracleFailures = 0
		return nil
	})
}

// RecordTradeActivity accounts an opened trade against the activity window
// and trips the breaker when count or notional exceeds the ceiling.
func (cb *CircuitBreaker) RecordTradeActivity(ctx context.Context, bounds protocol.BreakerBounds, notional uint64) error {
	return cb.mutate(ctx, func(state *BreakerState) error {
		if state.Tripped {
			return nil
		}
		now := cb.now()
		if bounds.ActivityWindow <= 0 {
			return nil
		}
		if state.WindowStart.IsZero() || now.Sub(state.WindowStart) >= bounds.ActivityWindow {
			state.WindowStart = now
			state.WindowTrades = 0
			state.WindowNotional = 0
		}
		state.WindowTrades++
		total, err := mathx.Add(state.WindowNotional, notional)
		if err != nil {
			return err
		}
		state.WindowNotional = total

		tripped := (bounds.MaxTradesPerWindow > 0 && state.WindowTrades > bounds.MaxTradesPerWindow) ||
			(bounds.MaxNotionalPerWindow > 0 && state.WindowNotional > bounds.MaxNotionalPerWindow)
		if tripped {
			cb.trip(state, bounds, TripTradeActivity, "trade activity ceiling exceeded")
		}
		return nil
	})
}

// Trip forces the breaker into the tripped state. Used by the emergency
// pause action.
func (cb *CircuitBreaker) Trip(ctx context.Context, bounds protocol.BreakerBounds, reason TripReason, detail string) error {
	return cb.mutate(ctx, func(state *BreakerState) error {
		cb.trip(state, bounds, reason, detail)
		return nil
	})
}

// Reset clears the tripped state ahead of the cooldown. Only the multisig
// reset action may call it.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	return cb.mutate(ctx, func(state *BreakerState) error {
		*state = BreakerState{}
		return nil
	})
}

func (cb *CircuitBreaker) trip(state *BreakerState, bounds protocol.BreakerBounds, reason TripReason, detail string) {
	now := cb.now()
	state.Tripped = true
	state.Reason = reason
	state.Detail = detail
	state.TrippedAt = now
	state.CooldownUntil = now.Add(bounds.Cooldown)
	cb.log.Warn("circuit breaker tripped",
		zap.String("reason", string(reason)),
		zap.String("detail", detail),
		zap.Time("cooldown_until", state.CooldownUntil))
}

// mutate applies fn to the current state under compare-and-set, retrying a
// bounded number of times on conflicts so observations are never lost to a
// concurrent writer.
func (cb *CircuitBreaker) mutate(ctx context.Context, fn func(*BreakerState) error) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		state, version, err := cb.State(ctx)
		if err != nil {
			return err
		}
		before := state
		if err := fn(&state); err != nil {
			return err
		}
		if state == before {
			return nil
		}
		if _, err := store.PutJSON(ctx, cb.store, protocol.BreakerKey, &state, version); err != nil {
			if errors.IsKind(err, errors.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
