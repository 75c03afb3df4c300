// Package cache holds the per-ad advisory lock that serializes AdState
// mutations across feedback ingress and allocator write-back. Score
// memoization itself lives alongside the scorer (pkg/scorer uses
// patrickmn/go-cache directly); this package is the distributed lock
// half, backed by Redis rather than Postgres because it is taken far
// more often than the per-tenant scheduler's advisory lock and needs to
// work the same way across every pod.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld means Unlock was called after the lock already expired
// or was taken by someone else; the caller's critical section may have
// run longer than the lock's TTL.
var ErrLockNotHeld = errors.New("ad lock not held")

// unlockScript only deletes the key if its value still matches the
// token we set, so a goroutine can never release a lock it no longer
// holds after its own lease expired and was re-acquired by another
// caller.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// AdLock is a Redis-backed mutual-exclusion lock scoped to one ad_id.
type AdLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAdLock creates an AdLock using client, with leases of ttl.
func NewAdLock(client *redis.Client, ttl time.Duration) *AdLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &AdLock{client: client, ttl: ttl}
}

// Handle is the held lock's release token, returned by Acquire.
type Handle struct {
	key   string
	token string
}

// Acquire blocks, retrying with backoff, until adID's lock is obtained
// or ctx is cancelled.
func (l *AdLock) Acquire(ctx context.Context, adID string) (*Handle, error) {
	key := lockKey(adID)
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating lock token: %w", err)
	}

	backoff := 10 * time.Millisecond
	const maxBackoff = 250 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring ad lock for %s: %w", adID, err)
		}
		if ok {
			return &Handle{key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// TryAcquire attempts to obtain adID's lock once, without retrying.
// Returns nil, nil if the lock is already held by someone else.
func (l *AdLock) TryAcquire(ctx context.Context, adID string) (*Handle, error) {
	key := lockKey(adID)
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating lock token: %w", err)
	}

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring ad lock for %s: %w", adID, err)
	}
	if !ok {
		return nil, nil
	}
	return &Handle{key: key, token: token}, nil
}

// Unlock releases h if it is still held. Safe to call from a deferred
// statement; returns ErrLockNotHeld if the lease already expired.
func (l *AdLock) Unlock(ctx context.Context, h *Handle) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{h.key}, h.token).Result()
	if err != nil {
		return fmt.Errorf("releasing ad lock: %w", err)
	}
	if n, _ := result.(int64); n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func lockKey(adID string) string {
	return "adlock:" + adID
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
