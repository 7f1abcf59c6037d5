package dlock

import "errors"

// Error values returned by the lock coordinator.
var (
	// ErrLockUnavailable is a throttling-class failure: the resource is
	// contended and the caller should back off or reject the request.
	ErrLockUnavailable = errors.New("lock unavailable")
	// ErrLockNotHeld reports a release of a token that no longer (or never)
	// held the lock. Never reported as a silent success.
	ErrLockNotHeld = errors.New("lock not held")
	// ErrInternal wraps a failure raised by a task run under the lock. The
	// lock is always released before it surfaces.
	ErrInternal      = errors.New("internal failure")
	ErrInvalidConfig = errors.New("invalid coordinator config")
)
