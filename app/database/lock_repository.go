package database

import (
	"fmt"
	"time"
)

var _ LockRepository = (*lockRepository)(nil)

type lockRepository struct {
	db *DB
}

func NewLockRepository(db *DB) LockRepository {
	return &lockRepository{db: db}
}

// TryAcquire attempts to take the lease row for a schedule. On conflict the
// existing lease is only taken over when its expiry has already passed. The
// holder and expiry are written atomically with the attempt.
func (r *lockRepository) TryAcquire(scheduleID, holder string, until time.Time) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO schedule_locks (schedule_id, locked_by, locked_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (schedule_id) DO UPDATE SET
			locked_by = EXCLUDED.locked_by,
			locked_until = EXCLUDED.locked_until
		WHERE schedule_locks.locked_until < NOW()
	`, scheduleID, holder, until)

	if err != nil {
		return false, fmt.Errorf("failed to acquire schedule lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// Release deletes the lease row if still owned by the calling holder. Safe to
// call when the lock was never held.
func (r *lockRepository) Release(scheduleID, holder string) error {
	_, err := r.db.Exec(`
		DELETE FROM schedule_locks
		WHERE schedule_id = $1 AND locked_by = $2
	`, scheduleID, holder)

	if err != nil {
		return fmt.Errorf("failed to release schedule lock: %w", err)
	}

	return nil
}
