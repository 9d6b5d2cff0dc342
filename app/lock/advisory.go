package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/feedcourier/feedcourier/app/database"
)

var _ Lock = (*AdvisoryLock)(nil)

// AdvisoryLock uses PostgreSQL session advisory locks. Each held lock pins a
// dedicated connection since the lock is scoped to that session. Schedule ids
// hash into the 64-bit key space; a collision can only delay a run, never
// corrupt state.
type AdvisoryLock struct {
	db    *database.DB
	mu    sync.Mutex
	conns map[string]*sql.Conn
}

func NewAdvisoryLock(db *database.DB) *AdvisoryLock {
	return &AdvisoryLock{
		db:    db,
		conns: make(map[string]*sql.Conn),
	}
}

func (l *AdvisoryLock) Acquire(ctx context.Context, scheduleID string) (bool, error) {
	l.mu.Lock()
	if _, held := l.conns[scheduleID]; held {
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", advisoryKey(scheduleID)).Scan(&acquired)
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	if !acquired {
		conn.Close()
		return false, nil
	}

	l.mu.Lock()
	l.conns[scheduleID] = conn
	l.mu.Unlock()

	return true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context, scheduleID string) error {
	l.mu.Lock()
	conn, held := l.conns[scheduleID]
	delete(l.conns, scheduleID)
	l.mu.Unlock()

	if !held {
		return nil
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", advisoryKey(scheduleID)); err != nil {
		// The session may still hold the lock. Poison the connection so the
		// pool discards it instead of recycling a locked session.
		conn.Raw(func(any) error { return driver.ErrBadConn })
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}

	return nil
}

// advisoryKey hashes a schedule id into the signed 64-bit advisory key space
func advisoryKey(scheduleID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scheduleID))
	return int64(h.Sum64())
}
