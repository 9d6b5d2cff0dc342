package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
)

var _ Lock = (*TableLock)(nil)

// TableLock is the fallback for databases where advisory locks are
// unavailable. It holds a lease row per schedule; an expired lease may be
// taken over by any peer. If the lock table itself was never deployed the
// lock fails open: mutual exclusion degrades to best effort, which is logged
// rather than silently masked.
type TableLock struct {
	locks  database.LockRepository
	holder string
	lease  time.Duration
	now    func() time.Time
}

func NewTableLock(locks database.LockRepository, holder string) *TableLock {
	return &TableLock{
		locks:  locks,
		holder: holder,
		lease:  DefaultLease,
		now:    time.Now,
	}
}

func (l *TableLock) Acquire(ctx context.Context, scheduleID string) (bool, error) {
	acquired, err := l.locks.TryAcquire(scheduleID, l.holder, l.now().UTC().Add(l.lease))
	if err != nil {
		if database.IsUndefinedTable(err) {
			slog.Warn("Lock table not deployed, granting lock unconditionally",
				"schedule_id", scheduleID, "holder", l.holder)
			return true, nil
		}
		return false, err
	}

	return acquired, nil
}

func (l *TableLock) Release(ctx context.Context, scheduleID string) error {
	err := l.locks.Release(scheduleID, l.holder)
	if err != nil && database.IsUndefinedTable(err) {
		return nil
	}
	return err
}
