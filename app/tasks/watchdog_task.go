package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedcourier/feedcourier/app/metrics"
	"github.com/feedcourier/feedcourier/app/watchdog"
)

type WatchdogTask struct {
	Task
	wd *watchdog.Watchdog
}

func NewWatchdogTask(wd *watchdog.Watchdog) *WatchdogTask {
	return &WatchdogTask{
		Task: NewTask(TaskTypeWatchdog, "watchdog"),
		wd:   wd,
	}
}

func (t *WatchdogTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	reclaimed, err := t.wd.ReclaimStuck(ctx)
	if err != nil {
		return fmt.Errorf("failed to reclaim stuck deliveries: %w", err)
	}

	metrics.WatchdogReclaims.Add(float64(reclaimed))

	slog.Debug("Task completed",
		"type", "Watchdog",
		"duration", t.GetDuration(),
		"reclaimed", reclaimed)

	return nil
}

type RetentionTask struct {
	Task
	wd *watchdog.Watchdog
}

func NewRetentionTask(wd *watchdog.Watchdog) *RetentionTask {
	return &RetentionTask{
		Task: NewTask(TaskTypeRetention, "retention"),
		wd:   wd,
	}
}

func (t *RetentionTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stats, err := t.wd.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to run retention sweep: %w", err)
	}

	slog.Info("Task completed",
		"type", "Retention",
		"duration", t.GetDuration(),
		"deliveries_deleted", stats.DeliveriesDeleted,
		"items_deleted", stats.ItemsDeleted)

	return nil
}
