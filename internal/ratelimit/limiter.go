package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// minRetryAfter is the floor for the retry hint returned on denial.
const minRetryAfter = 100 * time.Millisecond

// Store is the shared counter store behind the sliding window. Add must
// prune entries older than now-window, insert the new member, set a key
// expiry and report the post-insert count plus the age of the oldest
// surviving entry, all as one atomic batch with respect to concurrent Adds
// on the same key.
type Store interface {
	Add(ctx context.Context, key, member string, now time.Time, window time.Duration) (count int64, oldestAge time.Duration, err error)
	Remove(ctx context.Context, key, member string) error
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, err error)
}

// Decision is the outcome of a check-and-consume call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Quota reports remaining capacity per configured window.
type Quota struct {
	PerSecond int64
	PerMinute int64
}

// Limiter enforces sliding-window rate limits per (tenant, endpoint, window).
type Limiter struct {
	store Store
	// failOpen allows requests through when the store is unavailable.
	// Default is to propagate the store error.
	failOpen bool
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailOpen makes store outages advisory: checks are allowed through
// instead of returning the store error.
func WithFailOpen() Option {
	return func(l *Limiter) { l.failOpen = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over the given store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume consumes one slot for the endpoint if every configured
// window has capacity. The first violated window short-circuits the check and
// its just-inserted entry is rolled back. A nil or empty config always allows.
func (l *Limiter) CheckAndConsume(ctx context.Context, tenantID, endpointID string, cfg *hub.RateLimitConfig) (Decision, error) {
	if cfg == nil || (cfg.MaxPerSecond <= 0 && cfg.MaxPerMinute <= 0) {
		return Decision{Allowed: true}, nil
	}

	member := uuid.New().String()
	now := l.now()

	type window struct {
		span time.Duration
		max  int
	}
	windows := []window{
		{time.Second, cfg.MaxPerSecond},
		{time.Minute, cfg.MaxPerMinute},
	}

	var consumed []string
	for _, w := range windows {
		if w.max <= 0 {
			continue
		}
		key := windowKey(tenantID, endpointID, w.span)
		count, oldestAge, err := l.store.Add(ctx, key, member, now, w.span)
		if err != nil {
			if l.failOpen {
				logger.NewLogger("rate-limiter").Warn("counter store unavailable, failing open",
					"tenant_id", tenantID,
					"endpoint_id", endpointID,
					"error", err,
				)
				return Decision{Allowed: true}, nil
			}
			l.rollback(ctx, tenantID, endpointID, member, consumed)
			return Decision{}, fmt.Errorf("rate limit check: %w", err)
		}
		if count > int64(w.max) {
			if rbErr := l.store.Remove(ctx, key, member); rbErr != nil {
				logger.NewLogger("rate-limiter").Warn("failed to roll back denied entry", "key", key, "error", rbErr)
			}
			l.rollback(ctx, tenantID, endpointID, member, consumed)
			return Decision{RetryAfter: retryAfter(w.span, oldestAge)}, nil
		}
		consumed = append(consumed, key)
	}

	return Decision{Allowed: true}, nil
}

// RemainingQuota is the read-only variant of CheckAndConsume for
// introspection. Unbounded axes report -1.
func (l *Limiter) RemainingQuota(ctx context.Context, tenantID, endpointID string, cfg *hub.RateLimitConfig) (Quota, error) {
	q := Quota{PerSecond: -1, PerMinute: -1}
	if cfg == nil {
		return q, nil
	}
	now := l.now()

	if cfg.MaxPerSecond > 0 {
		count, err := l.store.Count(ctx, windowKey(tenantID, endpointID, time.Second), now, time.Second)
		if err != nil {
			return q, fmt.Errorf("rate limit quota: %w", err)
		}
		q.PerSecond = max(int64(cfg.MaxPerSecond)-count, 0)
	}
	if cfg.MaxPerMinute > 0 {
		count, err := l.store.Count(ctx, windowKey(tenantID, endpointID, time.Minute), now, time.Minute)
		if err != nil {
			return q, fmt.Errorf("rate limit quota: %w", err)
		}
		q.PerMinute = max(int64(cfg.MaxPerMinute)-count, 0)
	}
	return q, nil
}

// rollback undoes entries already consumed in earlier windows of the same
// check so a denial leaves no partial state.
func (l *Limiter) rollback(ctx context.Context, tenantID, endpointID, member string, keys []string) {
	for _, key := range keys {
		if err := l.store.Remove(ctx, key, member); err != nil {
			logger.NewLogger("rate-limiter").Warn("failed to roll back window entry", "key", key, "error", err)
		}
	}
}

// retryAfter estimates when the oldest surviving entry slides out of the
// window, floored at minRetryAfter.
func retryAfter(window, oldestAge time.Duration) time.Duration {
	wait := window - oldestAge
	if wait < minRetryAfter {
		wait = minRetryAfter
	}
	return wait
}

func windowKey(tenantID, endpointID string, window time.Duration) string {
	return fmt.Sprintf("rl:%s:%s:%d", tenantID, endpointID, window.Milliseconds())
}
