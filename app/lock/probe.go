package lock

import (
	"context"
	"log/slog"

	"github.com/feedcourier/feedcourier/app/database"
)

// Probe selects a lock implementation at startup: the advisory path when the
// database supports session advisory locks, otherwise the table-based lease.
// Managed databases commonly restrict advisory locks, which surfaces here as
// an error on the probe round trip.
func Probe(ctx context.Context, db *database.DB, locks database.LockRepository, holder string) Lock {
	conn, err := db.Conn(ctx)
	if err != nil {
		slog.Warn("Advisory lock probe failed, using table locks", "error", err)
		return NewTableLock(locks, holder)
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(0)").Scan(&acquired); err != nil {
		slog.Warn("Advisory locks unavailable, using table locks", "error", err)
		return NewTableLock(locks, holder)
	}
	if acquired {
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(0)"); err != nil {
			slog.Warn("Advisory lock probe cleanup failed, using table locks", "error", err)
			return NewTableLock(locks, holder)
		}
	}

	slog.Debug("Advisory locks available")
	return NewAdvisoryLock(db)
}
