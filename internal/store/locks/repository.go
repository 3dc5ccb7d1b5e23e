// Package locks implements the persisted named lock used for single-flight
// coordination across processes that share nothing but the database.
//
// A lock is acquired with a conditional update plus read-back (optimistic
// CAS), never by parking a thread. A holder that exceeds the maximum hold
// time is considered abandoned and the lock becomes stealable, which bounds
// the damage of a crashed holder without any heartbeat mechanism.
package locks

import (
	"context"
	"time"
)

// Repository is the named-lock contract.
//
// Acquire returns (token, true) when the caller won the lock, (0, false)
// when another caller holds a live lock. Tokens only need very high
// collision improbability, not uniqueness: the current UnixMilli is enough.
//
// Release clears the lock only while the stored token still equals the
// caller's, so a caller pre-empted by the abandonment timeout cannot
// release the thief's lock. Releasing a lock you no longer own is a no-op,
// not an error.
type Repository interface {
	Acquire(ctx context.Context, name string, maxHold time.Duration) (int64, bool, error)
	Release(ctx context.Context, name string, token int64) error
}
