package safety

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

const limiterComponent = "rate_limiter"

// casAttempts bounds internal compare-and-set retries for commutative
// updates (recording an admission, bumping a counter). Conflicts beyond the
// bound surface as ConcurrencyConflict for the caller to retry.
const casAttempts = 3

// rateWindow is the persisted sliding window for one (class, scope) pair.
type rateWindow struct {
	// Admission times in unix milliseconds, oldest first.
	AdmittedAt []int64 `json:"admitted_at"`
}

// RateLimiter admits or rejects operations against per-class sliding
// windows. Window state lives in the entity store under compare-and-set so
// multiple executors share one budget.
type RateLimiter struct {
	store store.EntityStore
	now   func() time.Time
	log   *zap.Logger
}

// NewRateLimiter creates a rate limiter over the given store.
func NewRateLimiter(s store.EntityStore, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store: s,
		now:   time.Now,
		log:   log.Named(limiterComponent),
	}
}

// WithClock overrides the time source. Test hook.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// TryAdmit admits one call of the given operation class within scope, or
// fails with RateLimitExceeded. Entries older than the window are evicted
// lazily on each call. A class with no configured limit is unlimited.
func (rl *RateLimiter) TryAdmit(ctx context.Context, class, scope string, limit protocol.RateLimit) error {
	if limit.Limit <= 0 || limit.Window <= 0 {
		return nil
	}

	key := protocol.RateLimitKey(class, scope)
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		var win rateWindow
		version, err := store.GetJSON(ctx, rl.store, key, &win)
		if err != nil {
			if !errors.IsKind(err, errors.KindNotFound) {
				return err
			}
			version = store.CreateVersion
		}

		now := rl.now()
		cutoff := now.Add(-limit.Window).UnixMilli()
		kept := win.AdmittedAt[:0]
		for _, ts := range win.AdmittedAt {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		win.AdmittedAt = kept

		if len(win.AdmittedAt) >= limit.Limit {
			rl.log.Debug("admission rejected",
				zap.String("class", class),
				zap.String("scope", scope),
				zap.Int("limit", limit.Limit),
				zap.Duration("window", limit.Window))
			return errors.Newf(errors.KindRateLimitExceeded, limiterComponent, "try_admit",
				"%s: %d calls within %s reached the limit of %d", class, len(win.AdmittedAt), limit.Window, limit.Limit)
		}

		win.AdmittedAt = append(win.AdmittedAt, now.UnixMilli())
		if _, err := store.PutJSON(ctx, rl.store, key, &win, version); err != nil {
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

// Usage returns the number of admissions currently inside the window,
// without recording one. Used for reporting.
func (rl *RateLimiter) Usage(ctx context.Context, class, scope string, limit protocol.RateLimit) (int, error) {
	var win rateWindow
	if _, err := store.GetJSON(ctx, rl.store, protocol.RateLimitKey(class, scope), &win); err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := rl.now().Add(-limit.Window).UnixMilli()
	count := 0
	for _, ts := range win.AdmittedAt {
		if ts > cutoff {
			count++
		}
	}
	return count, nil
}
