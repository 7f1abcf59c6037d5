package dlock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRetryCount  = 10
	defaultRetryDelay  = 200 * time.Millisecond
	defaultRetryJitter = 200 * time.Millisecond
	defaultDriftFactor = 0.01
	driftConstant      = 2 * time.Millisecond
)

// Store is one independent lock store. A Coordinator holds a key set only
// when a strict majority of its stores hold every key.
type Store interface {
	// TryAcquire takes key for token for ttl, or extends it when token
	// already holds it. A key held by another token fails with
	// ErrLockUnavailable.
	TryAcquire(ctx context.Context, key string, token string, ttl time.Duration) error
	// Release frees key if and only if token holds it; otherwise
	// ErrLockNotHeld.
	Release(ctx context.Context, key string, token string) error
}

// Lock is an ephemeral fencing token over a set of resource keys.
type Lock struct {
	keys      []string
	token     string
	expiresAt time.Time
}

// Token returns the fencing identity of the lock.
func (lock *Lock) Token() string {
	return lock.token
}

// ExpiresAt returns the instant mutual exclusion stops being guaranteed.
func (lock *Lock) ExpiresAt() time.Time {
	return lock.expiresAt
}

// Coordinator implements quorum-based distributed mutual exclusion over N
// independent lock stores with bounded, jittered retry. The lock guarantees
// mutual exclusion until the TTL elapses; it does not make the protected
// operation idempotent, so money-moving tasks still run their own
// version-checked retry protocol.
type Coordinator struct {
	stores      []Store
	quorum      int
	retryCount  int
	retryDelay  time.Duration
	retryJitter time.Duration
	driftFactor float64
	nowFn       func() time.Time
	sleepFn     func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetry overrides the bounded-retry policy used by Acquire.
func WithRetry(count int, delay time.Duration, jitter time.Duration) CoordinatorOption {
	return func(coordinator *Coordinator) {
		coordinator.retryCount = count
		coordinator.retryDelay = delay
		coordinator.retryJitter = jitter
	}
}

// WithClock overrides time observation, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if now != nil {
			coordinator.nowFn = now
		}
	}
}

// WithSleeper overrides the retry sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if sleep != nil {
			coordinator.sleepFn = sleep
		}
	}
}

// NewCoordinator wires a Coordinator over the given stores.
func NewCoordinator(stores []Store, logger *zap.Logger, options ...CoordinatorOption) (*Coordinator, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("%w: at least one store required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	coordinator := &Coordinator{
		stores:      stores,
		quorum:      len(stores)/2 + 1,
		retryCount:  defaultRetryCount,
		retryDelay:  defaultRetryDelay,
		retryJitter: defaultRetryJitter,
		driftFactor: defaultDriftFactor,
		nowFn:       time.Now,
		sleepFn:     sleepContext,
		logger:      logger,
	}
	for _, option := range options {
		if option != nil {
			option(coordinator)
		}
	}
	if coordinator.retryCount < 1 {
		return nil, fmt.Errorf("%w: retry count must be at least one", ErrInvalidConfig)
	}
	return coordinator, nil
}

// Acquire takes every key on a majority of stores within ttl. Partial
// acquisitions are rolled back; exhausted retries yield ErrLockUnavailable.
func (coordinator *Coordinator) Acquire(ctx context.Context, keys []string, ttl time.Duration) (*Lock, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: empty key set", ErrInvalidConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	for attempt := 0; attempt < coordinator.retryCount; attempt++ {
		if attempt > 0 {
			delay := coordinator.retryDelay
			if coordinator.retryJitter > 0 {
				delay += time.Duration(rand.Int63n(int64(coordinator.retryJitter)))
			}
			if err := coordinator.sleepFn(ctx, delay); err != nil {
				return nil, err
			}
		}
		lock, ok := coordinator.tryOnce(ctx, keys, ttl)
		if ok {
			return lock, nil
		}
	}
	return nil, fmt.Errorf("%w: keys %v", ErrLockUnavailable, keys)
}

func (coordinator *Coordinator) tryOnce(ctx context.Context, keys []string, ttl time.Duration) (*Lock, bool) {
	token := uuid.NewString()
	started := coordinator.nowFn()

	acquiredStores := 0
	for _, store := range coordinator.stores {
		if coordinator.acquireAllKeys(ctx, store, keys, token, ttl) {
			acquiredStores++
		}
	}

	elapsed := coordinator.nowFn().Sub(started)
	drift := time.Duration(float64(ttl)*coordinator.driftFactor) + driftConstant
	validity := ttl - elapsed - drift

	if acquiredStores >= coordinator.quorum && validity > 0 {
		return &Lock{
			keys:      append([]string(nil), keys...),
			token:     token,
			expiresAt: started.Add(validity),
		}, true
	}

	// Minority acquisition or the ttl clock ran out: roll everything back.
	coordinator.releaseEverywhere(ctx, keys, token)
	return nil, false
}

func (coordinator *Coordinator) acquireAllKeys(ctx context.Context, store Store, keys []string, token string, ttl time.Duration) bool {
	for index, key := range keys {
		if err := store.TryAcquire(ctx, key, token, ttl); err != nil {
			for _, acquired := range keys[:index] {
				if releaseErr := store.Release(ctx, acquired, token); releaseErr != nil {
					coordinator.logger.Debug("rollback release failed", zap.String("key", acquired), zap.Error(releaseErr))
				}
			}
			return false
		}
	}
	return true
}

func (coordinator *Coordinator) releaseEverywhere(ctx context.Context, keys []string, token string) int {
	releasedStores := 0
	for _, store := range coordinator.stores {
		storeReleased := true
		for _, key := range keys {
			if err := store.Release(ctx, key, token); err != nil {
				storeReleased = false
			}
		}
		if storeReleased {
			releasedStores++
		}
	}
	return releasedStores
}

// Release frees the lock. Only the holder's token releases; an expired or
// never-held lock reports ErrLockNotHeld rather than silently succeeding.
func (coordinator *Coordinator) Release(ctx context.Context, lock *Lock) error {
	if lock == nil || lock.token == "" {
		return ErrLockNotHeld
	}
	releasedStores := coordinator.releaseEverywhere(ctx, lock.keys, lock.token)
	if releasedStores < coordinator.quorum {
		return fmt.Errorf("%w: released on %d of %d stores", ErrLockNotHeld, releasedStores, len(coordinator.stores))
	}
	return nil
}

// Execute runs fn under a scoped lock with guaranteed release on every exit
// path. Acquisition failure surfaces ErrLockUnavailable (a throttling
// signal); a failing fn surfaces ErrInternal with the lock released.
func (coordinator *Coordinator) Execute(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := coordinator.Acquire(ctx, keys, ttl)
	if err != nil {
		return err
	}
	return coordinator.runLocked(ctx, lock, fn)
}

// ExecuteUntilSuccess retries acquisition with a fixed delay until it
// succeeds or ctx is done. Used where the caller has no fallback; user
// initiated actions use Execute and reject under contention instead.
func (coordinator *Coordinator) ExecuteUntilSuccess(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error, retryDelay time.Duration) error {
	for {
		lock, err := coordinator.Acquire(ctx, keys, ttl)
		if err == nil {
			return coordinator.runLocked(ctx, lock, fn)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		coordinator.logger.Warn("lock acquisition failed, retrying", zap.Strings("keys", keys), zap.Duration("retry_delay", retryDelay))
		if sleepErr := coordinator.sleepFn(ctx, retryDelay); sleepErr != nil {
			return sleepErr
		}
	}
}

func (coordinator *Coordinator) runLocked(ctx context.Context, lock *Lock, fn func(ctx context.Context) error) error {
	defer func() {
		if releaseErr := coordinator.Release(context.WithoutCancel(ctx), lock); releaseErr != nil {
			coordinator.logger.Warn("lock release failed", zap.Strings("keys", lock.keys), zap.Error(releaseErr))
		}
	}()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
