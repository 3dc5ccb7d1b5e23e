// Package common defines shared sentinel errors used across the sync core.
// Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Snapshot/orchestration flow control.
	//
	// ErrLockNotAcquired is not a failure: a forced refresh declines to run
	// because another process already holds the fetch lock.
	// ErrUnavailable is terminal for a partition: no fresh data could be
	// fetched and no stale snapshot exists to fall back on.
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrWaitExhausted   = errors.New("wait budget exhausted")
	ErrUnavailable     = errors.New("snapshot unavailable")

	// Deployment mistakes. Raised immediately, never retried.
	ErrConfiguration = errors.New("invalid configuration")
)
