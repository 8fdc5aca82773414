package scheduler

import (
	"math"
	"math/rand"
	"time"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

const (
	defaultBaseDelay  = 5 * time.Second
	defaultMultiplier = 2.0
	defaultMaxDelay   = 15 * time.Minute
	defaultMaxRetries = 5
)

// backoffDelay computes the delay before the next attempt as
// base * multiplier^retryCount, capped at the policy's max, with up to 20%
// jitter when enabled.
func backoffDelay(policy hub.RetryPolicy, retryCount int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = defaultMultiplier
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(retryCount)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if policy.Jitter {
		// +/- 20% to spread retries from concurrent workers.
		jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
		if rand.Intn(2) == 0 {
			delay -= jitter
		} else {
			delay += jitter
		}
	}
	return delay
}

// maxRetries returns the policy's retry budget. A zero-valued policy falls
// back to the default so items never retry forever.
func maxRetries(policy hub.RetryPolicy) int {
	if policy.MaxRetries > 0 {
		return policy.MaxRetries
	}
	return defaultMaxRetries
}
