package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/ingest"
	"github.com/feedcourier/feedcourier/app/metrics"
)

// FeedProcessor fetches and ingests a single feed by name.
type FeedProcessor interface {
	ProcessFeed(ctx context.Context, name string) (ingest.RunStats, error)
}

var _ FeedProcessor = (*ingest.Service)(nil)

type PollFeedTask struct {
	Task
	service   FeedProcessor
	feeds     database.FeedRepository
	schedules database.ScheduleRepository
	scheduler TaskSchedulerInterface
	worker    ScheduleRunner
}

func NewPollFeedTask(feedName string, service FeedProcessor, feeds database.FeedRepository,
	schedules database.ScheduleRepository, scheduler TaskSchedulerInterface, worker ScheduleRunner) *PollFeedTask {
	return &PollFeedTask{
		Task:      NewTask(TaskTypePollFeed, feedName),
		service:   service,
		feeds:     feeds,
		schedules: schedules,
		scheduler: scheduler,
		worker:    worker,
	}
}

func (t *PollFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stats, err := t.service.ProcessFeed(ctx, t.Subject)
	if err != nil {
		metrics.FeedRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to process feed: %w", err)
	}

	metrics.FeedRuns.WithLabelValues("ok").Inc()
	metrics.ItemsIngested.WithLabelValues("inserted").Add(float64(stats.Inserted))
	metrics.ItemsIngested.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.ItemsIngested.WithLabelValues("duplicate").Add(float64(stats.Duplicates))

	slog.Info("Task completed",
		"type", "PollFeed",
		"feed", t.Subject,
		"duration", t.GetDuration(),
		"fetched", stats.Fetched,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors)

	if stats.Inserted+stats.Updated > 0 {
		t.triggerImmediateSchedules(ctx)
	}

	return nil
}

// triggerImmediateSchedules queues a delivery run for every immediate-mode
// schedule bound to the feed that just produced new items
func (t *PollFeedTask) triggerImmediateSchedules(ctx context.Context) {
	feed, err := t.feeds.GetFeed(t.Subject)
	if err != nil || feed == nil {
		slog.Warn("Failed to resolve feed for immediate schedules", "feed", t.Subject, "error", err)
		return
	}

	schedules, err := t.schedules.GetEnabledSchedulesForFeed(feed.ID)
	if err != nil {
		slog.Warn("Failed to load schedules for feed", "feed", t.Subject, "error", err)
		return
	}

	for _, s := range schedules {
		if s.Mode != database.ModeImmediate {
			continue
		}

		task := NewRunScheduleTask(s.Name, s.ID, t.worker)
		if err := t.scheduler.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue RunScheduleTask", "schedule", s.Name, "error", err)
		}
	}
}
