package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// CounterStore is the atomic upsert-increment primitive the limiter relies
// on. It must never be decomposed into a read followed by a write.
type CounterStore interface {
	Increment(ctx context.Context, identifier string, action model.ActionType, windowStart time.Time, ttl time.Duration) (int, error)
}

// Limiter throttles OTP issuance per identifier and action over fixed
// windows. When the counter store is unreachable it fails open: allowing a
// request is preferred over blocking legitimate traffic while the store is
// down. That trade-off is deliberate; do not harden it into fail-closed.
type Limiter struct {
	store    CounterStore
	recorder *audit.Recorder

	nowFn func() time.Time
}

func NewLimiter(store CounterStore, recorder *audit.Recorder) *Limiter {
	return &Limiter{
		store:    store,
		recorder: recorder,
		nowFn:    time.Now,
	}
}

// CheckAndRecord counts this attempt and decides whether it is over the cap.
// The attempt that crosses maxAttempts is itself recorded and flagged, not
// silently dropped. On store failure the decision is allow-with-fallback and
// a degraded-mode event is logged.
func (l *Limiter) CheckAndRecord(ctx context.Context, identifier string, action model.ActionType, maxAttempts int, window time.Duration) (*model.Decision, error) {
	identifier = util.NormalizeIdentifier(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", errs.ErrValidation)
	}
	if maxAttempts < 1 || window <= 0 {
		return nil, fmt.Errorf("%w: invalid limit parameters", errs.ErrValidation)
	}

	now := l.nowFn().UTC()
	windowStart := now.Truncate(window)
	windowEnd := windowStart.Add(window)

	count, err := l.store.Increment(ctx, identifier, action, windowStart, windowEnd.Sub(now))
	if err != nil {
		// Fail open: availability over strict throttling.
		util.Warn("Rate-limit store unavailable, failing open",
			zap.String("identifier", identifier),
			zap.String("action", string(action)),
			zap.Error(fmt.Errorf("%w: %v", errs.ErrStorageDegraded, err)))
		l.recorder.Record(ctx, model.EventLimiterDegraded, identifier, "", string(action))
		return &model.Decision{
			Limited:     false,
			MaxAttempts: maxAttempts,
			Fallback:    true,
		}, nil
	}

	decision := &model.Decision{
		Limited:        count > maxAttempts,
		AttemptCount:   count,
		MaxAttempts:    maxAttempts,
		TimeUntilReset: windowEnd.Sub(now),
	}

	if decision.Limited {
		util.Info("Rate limit exceeded",
			zap.String("identifier", identifier),
			zap.String("action", string(action)),
			zap.Int("attempt_count", count),
			zap.Int("max_attempts", maxAttempts))
		l.recorder.Record(ctx, model.EventRateLimited, identifier, "", string(action))
	}

	return decision, nil
}
