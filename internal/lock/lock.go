// Package lock serializes work on a single deal or escrow account across
// the api and worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned by Acquire when the key stays locked past the wait budget.
var ErrHeld = errors.New("lock: key is held")

// Locker hands out exclusive, expiring locks keyed by string.
type Locker interface {
	// TryLock returns ok=false without waiting when the key is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Acquire polls TryLock until the key is free, ctx is done or wait elapses.
func Acquire(ctx context.Context, l Locker, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	backoff := 25 * time.Millisecond
	for {
		unlock, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrHeld, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 400*time.Millisecond {
			backoff *= 2
		}
	}
}

func DealKey(id uuid.UUID) string {
	return "lock:deal:" + id.String()
}

func EscrowKey(id uuid.UUID) string {
	return "lock:escrow:" + id.String()
}
