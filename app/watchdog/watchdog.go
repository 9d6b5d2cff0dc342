package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
)

const (
	DefaultTimeoutMins = 30
	MinTimeoutMins     = 5
	DefaultRetention   = 14 // days
)

// SweepStats summarizes one retention sweep
type SweepStats struct {
	DeliveriesDeleted int64 `json:"deliveries_deleted"`
	ItemsDeleted      int64 `json:"items_deleted"`
}

// Watchdog recovers obligations stuck mid-delivery after a crash and prunes
// expired rows. It runs without the schedule lock: resetting a stuck
// obligation to pending is safe because the next delivery run re-checks the
// already-sent guard before sending.
type Watchdog struct {
	deliveries database.DeliveryRepository
	items      database.ItemRepository
	settings   database.SettingsRepository
	now        func() time.Time
}

func NewWatchdog(deliveries database.DeliveryRepository, items database.ItemRepository,
	settings database.SettingsRepository) *Watchdog {
	return &Watchdog{
		deliveries: deliveries,
		items:      items,
		settings:   settings,
		now:        time.Now,
	}
}

// ReclaimStuck resets deliveries that have sat in processing past the timeout
func (w *Watchdog) ReclaimStuck(ctx context.Context) (int64, error) {
	timeoutMins, err := w.settings.GetInt(database.SettingProcessingTimeoutMins, DefaultTimeoutMins)
	if err != nil {
		timeoutMins = DefaultTimeoutMins
	}
	if timeoutMins < MinTimeoutMins {
		timeoutMins = MinTimeoutMins
	}

	cutoff := w.now().UTC().Add(-time.Duration(timeoutMins) * time.Minute)

	reclaimed, err := w.deliveries.ReclaimStuck(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck deliveries: %w", err)
	}

	if reclaimed > 0 {
		slog.Info("Reclaimed stuck deliveries", "count", reclaimed, "timeout_mins", timeoutMins)
	}

	return reclaimed, nil
}

// Sweep deletes terminal deliveries past the retention window, then items that
// are both past the window and no longer referenced by any delivery. Order
// matters: deleting deliveries first releases their items for the second pass.
func (w *Watchdog) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	retentionDays, err := w.settings.GetInt(database.SettingRetentionDays, DefaultRetention)
	if err != nil {
		retentionDays = DefaultRetention
	}

	cutoff := w.now().UTC().AddDate(0, 0, -retentionDays)

	stats.DeliveriesDeleted, err = w.deliveries.DeleteTerminalBefore(cutoff)
	if err != nil {
		return stats, fmt.Errorf("failed to prune deliveries: %w", err)
	}

	stats.ItemsDeleted, err = w.items.DeleteUnreferencedBefore(cutoff)
	if err != nil {
		return stats, fmt.Errorf("failed to prune items: %w", err)
	}

	if stats.DeliveriesDeleted > 0 || stats.ItemsDeleted > 0 {
		slog.Info("Retention sweep completed",
			"deliveries_deleted", stats.DeliveriesDeleted,
			"items_deleted", stats.ItemsDeleted,
			"retention_days", retentionDays)
	}

	return stats, nil
}
