package executor

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// fuzzBudget perturbs a target budget by up to ±fuzzPct, deterministic
// from the idempotency key so identical upstream intents retried after a
// crash produce the same platform mutation rather than a new one each
// time, and distinct intents don't produce identical platform traffic
// patterns.
func fuzzBudget(targetCents int64, idempotencyKey string, fuzzPct float64) int64 {
	if fuzzPct <= 0 {
		return targetCents
	}
	h := sha256.Sum256([]byte(idempotencyKey))
	// Map the first 8 bytes of the digest to a uniform value in [-1, 1].
	n := binary.BigEndian.Uint64(h[:8])
	unit := float64(n) / float64(math.MaxUint64)
	signed := unit*2 - 1

	delta := float64(targetCents) * fuzzPct * signed
	return targetCents + int64(math.Round(delta))
}

// requeueBackoff returns the delay before a requeued change's next claim
// attempt: a full-jitter draw, uniform in [0, d], where d is the go-retry
// exponential delay for the attempt, capped at cap.
func requeueBackoff(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.NewExponential(base)
	backoff = retry.WithCappedDuration(cap, backoff)

	delay := cap
	for i := 0; i < attempts; i++ {
		d, stop := backoff.Next()
		if stop {
			delay = cap
			break
		}
		delay = d
	}
	return time.Duration(rand.Int64N(int64(delay) + 1))
}

// rateLimitBackoff returns when a rate-limited account should be
// retried: the start of the next rolling-hour window.
func rateLimitBackoff(now time.Time) time.Time {
	return now.Add(time.Hour)
}

// velocityBackoff returns when a velocity-capped account should be
// retried: an hour on, by which the oldest applied deltas in the
// rolling 6h window have started aging out.
func velocityBackoff(now time.Time) time.Time {
	return now.Add(time.Hour)
}
