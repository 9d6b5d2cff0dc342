package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedcourier/feedcourier/app/delivery"
	"github.com/feedcourier/feedcourier/app/metrics"
)

// ScheduleRunner is the delivery worker surface tasks depend on
type ScheduleRunner interface {
	RunSchedule(ctx context.Context, scheduleID string) (delivery.RunResult, error)
}

type RunScheduleTask struct {
	Task
	scheduleID string
	worker     ScheduleRunner
}

func NewRunScheduleTask(scheduleName, scheduleID string, worker ScheduleRunner) *RunScheduleTask {
	return &RunScheduleTask{
		Task:       NewTask(TaskTypeRunSchedule, scheduleName),
		scheduleID: scheduleID,
		worker:     worker,
	}
}

func (t *RunScheduleTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.worker.RunSchedule(ctx, t.scheduleID)
	if err != nil {
		return fmt.Errorf("failed to run schedule: %w", err)
	}

	metrics.DeliveriesSent.Add(float64(result.Sent))
	metrics.DeliveriesFailed.Add(float64(result.Failed))
	if result.Skipped && result.ResumesAt != nil {
		metrics.BlackoutSkips.Inc()
	}

	slog.Info("Task completed",
		"type", "RunSchedule",
		"schedule", t.Subject,
		"duration", t.GetDuration(),
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"reason", result.Reason)

	return nil
}
