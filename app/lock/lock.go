package lock

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultLease is how long a table-based lock is considered live before a
	// peer may treat it as abandoned
	DefaultLease = 5 * time.Minute

	// retryDelay is the single wait applied when WithLock is asked to retry
	retryDelay = 2 * time.Second
)

// Lock provides mutual exclusion per schedule across process instances.
// Acquire is non-blocking; Release is idempotent and safe to call when the
// lock was never held.
type Lock interface {
	Acquire(ctx context.Context, scheduleID string) (bool, error)
	Release(ctx context.Context, scheduleID string) error
}

// Manager wraps a Lock with the run-under-lock calling convention
type Manager struct {
	lock Lock
}

func NewManager(lock Lock) *Manager {
	return &Manager{lock: lock}
}

// WithLock runs fn while holding the schedule lock. When the lock is not
// immediately available it either gives up (wait=false) or waits once and
// retries a single time. Returns whether fn ran. The lock is always released,
// whether fn succeeds or fails.
func (m *Manager) WithLock(ctx context.Context, scheduleID string, wait bool, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := m.lock.Acquire(ctx, scheduleID)
	if err != nil {
		return false, err
	}

	if !acquired && wait {
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}

		acquired, err = m.lock.Acquire(ctx, scheduleID)
		if err != nil {
			return false, err
		}
	}

	if !acquired {
		return false, nil
	}

	defer func() {
		// Release must run even when fn's context was cancelled, otherwise
		// the lock stays held until the session expires.
		releaseCtx := context.WithoutCancel(ctx)
		if err := m.lock.Release(releaseCtx, scheduleID); err != nil {
			slog.Warn("Failed to release schedule lock", "schedule_id", scheduleID, "error", err)
		}
	}()

	return true, fn(ctx)
}
