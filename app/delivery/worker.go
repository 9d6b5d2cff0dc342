package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedcourier/feedcourier/app/blackout"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/lock"
)

const DefaultSendDelayMs = 3000

// RunResult summarizes one delivery run for a schedule
type RunResult struct {
	Schedule  string     `json:"schedule"`
	Sent      int        `json:"sent"`
	Failed    int        `json:"failed"`
	Skipped   bool       `json:"skipped"`
	Reason    string     `json:"reason,omitempty"`
	ResumesAt *time.Time `json:"resumes_at,omitempty"`
}

// Diagnostics is a read-only view of what would block a schedule's delivery
type Diagnostics struct {
	Schedule        string             `json:"schedule"`
	Enabled         bool               `json:"enabled"`
	Targets         int                `json:"targets"`
	Blackout        blackout.Status    `json:"blackout"`
	TransportStatus string             `json:"transport_status"`
	Counts          map[string]int     `json:"counts"`
	LastRunAt       *time.Time         `json:"last_run_at,omitempty"`
}

// Worker drains pending obligations for a schedule through the transport
type Worker struct {
	schedules  database.ScheduleRepository
	deliveries database.DeliveryRepository
	items      database.ItemRepository
	settings   database.SettingsRepository
	transport  Transport
	gate       *blackout.Gate
	locks      *lock.Manager
	now        func() time.Time
}

func NewWorker(schedules database.ScheduleRepository, deliveries database.DeliveryRepository,
	items database.ItemRepository, settings database.SettingsRepository,
	transport Transport, gate *blackout.Gate, locks *lock.Manager) *Worker {
	return &Worker{
		schedules:  schedules,
		deliveries: deliveries,
		items:      items,
		settings:   settings,
		transport:  transport,
		gate:       gate,
		locks:      locks,
		now:        time.Now,
	}
}

// RunSchedule drains the schedule's pending obligations under the distributed
// lock, gated by the blackout check. The blackout check happens once at the
// top of the run; obligations stay pending when delivery is suspended. The
// schedule's last-run timestamp advances regardless of how many sends
// succeeded.
func (w *Worker) RunSchedule(ctx context.Context, scheduleID string) (RunResult, error) {
	schedule, err := w.schedules.GetSchedule(scheduleID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	if schedule == nil {
		return RunResult{}, fmt.Errorf("schedule %q not found", scheduleID)
	}

	result := RunResult{Schedule: schedule.Name}

	if !schedule.Enabled {
		result.Skipped = true
		result.Reason = "schedule disabled"
		return result, nil
	}

	status := w.gate.Current(w.blackoutConfig())
	if status.Active {
		result.Skipped = true
		result.Reason = fmt.Sprintf("blackout active: %s", status.Reason)
		result.ResumesAt = status.EndsAt
		slog.Info("Delivery suspended by blackout", "schedule", schedule.Name, "resumes_at", status.EndsAt)
		return result, nil
	}

	ran, err := w.locks.WithLock(ctx, schedule.ID, false, func(ctx context.Context) error {
		w.drain(ctx, schedule, &result)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to run schedule under lock: %w", err)
	}
	if !ran {
		result.Skipped = true
		result.Reason = "locked by another instance"
		return result, nil
	}

	if err := w.schedules.UpdateLastRun(schedule.ID, w.now().UTC()); err != nil {
		slog.Warn("Failed to update schedule last run", "schedule", schedule.Name, "error", err)
	}

	return result, nil
}

func (w *Worker) drain(ctx context.Context, schedule *database.Schedule, result *RunResult) {
	tmpl, err := w.settings.Get(database.SettingMessageTemplate, DefaultTemplate)
	if err != nil {
		tmpl = DefaultTemplate
	}
	delayMs, err := w.settings.GetInt(database.SettingSendDelayMs, DefaultSendDelayMs)
	if err != nil {
		delayMs = DefaultSendDelayMs
	}
	delay := time.Duration(delayMs) * time.Millisecond

	first := true
	for _, target := range schedule.Targets {
		pending, err := w.deliveries.GetPending(schedule.ID, target)
		if err != nil {
			slog.Warn("Failed to load pending deliveries", "schedule", schedule.Name, "target", target, "error", err)
			continue
		}

		for _, d := range pending {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// Outbound rate limit: fixed delay between consecutive sends
			if !first && delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			first = false

			w.deliver(ctx, schedule, d, tmpl, result)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, schedule *database.Schedule, d database.Delivery, tmpl string, result *RunResult) {
	item, err := w.items.GetItem(d.ItemID)
	if err != nil {
		slog.Warn("Failed to load item for delivery", "delivery_id", d.ID, "error", err)
		return
	}
	if item == nil {
		// Content cannot be reconstructed
		w.fail(d.ID, "feed item no longer available", result)
		return
	}

	alreadySent, err := w.deliveries.SentExists(d.ItemID, d.Target)
	if err != nil {
		slog.Warn("Failed to check prior sends", "delivery_id", d.ID, "error", err)
		return
	}
	if alreadySent {
		// The same item was delivered to this target under another schedule
		w.fail(d.ID, "already sent to this target", result)
		return
	}

	content, err := RenderMessage(tmpl, *item)
	if err != nil {
		w.fail(d.ID, fmt.Sprintf("failed to render message: %v", err), result)
		return
	}

	if err := w.deliveries.MarkProcessing(d.ID, w.now().UTC()); err != nil {
		slog.Warn("Failed to mark delivery processing", "delivery_id", d.ID, "error", err)
		return
	}

	messageID, err := w.transport.Send(ctx, d.Target, content)
	if err != nil {
		w.fail(d.ID, err.Error(), result)
		return
	}

	if err := w.deliveries.MarkSent(d.ID, messageID, content, w.now().UTC()); err != nil {
		slog.Error("Send succeeded but status update failed", "delivery_id", d.ID, "message_id", messageID, "error", err)
		return
	}

	result.Sent++
	slog.Debug("Delivery sent", "schedule", schedule.Name, "target", d.Target, "message_id", messageID)
}

func (w *Worker) fail(deliveryID, reason string, result *RunResult) {
	if err := w.deliveries.MarkFailed(deliveryID, reason); err != nil {
		slog.Warn("Failed to mark delivery failed", "delivery_id", deliveryID, "error", err)
		return
	}
	result.Failed++
}

// Diagnostics reports the blocking conditions and queue counts for a schedule
func (w *Worker) Diagnostics(ctx context.Context, scheduleID string) (*Diagnostics, error) {
	schedule, err := w.schedules.GetSchedule(scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule %q not found", scheduleID)
	}

	counts, err := w.deliveries.CountByStatus(schedule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}

	return &Diagnostics{
		Schedule:        schedule.Name,
		Enabled:         schedule.Enabled,
		Targets:         len(schedule.Targets),
		Blackout:        w.gate.Current(w.blackoutConfig()),
		TransportStatus: w.transport.Status(),
		Counts:          counts,
		LastRunAt:       schedule.LastRunAt,
	}, nil
}

func (w *Worker) blackoutConfig() blackout.Config {
	location, err := w.settings.Get(database.SettingBlackoutLocation, "UTC")
	if err != nil {
		location = "UTC"
	}
	startMins, err := w.settings.GetInt(database.SettingBlackoutStartMins, 0)
	if err != nil {
		startMins = 0
	}
	endMins, err := w.settings.GetInt(database.SettingBlackoutEndMins, 0)
	if err != nil {
		endMins = 0
	}

	return blackout.Config{
		Location:        location,
		StartOffsetMins: startMins,
		EndOffsetMins:   endMins,
	}
}
