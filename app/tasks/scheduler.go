package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/feedcourier/feedcourier/app/cfg"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/watchdog"
)

const (
	watchdogCadence  = 5 * time.Minute
	retentionCadence = 24 * time.Hour
	dueFeedBatch     = 50
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	feeds       database.FeedRepository
	schedules   database.ScheduleRepository
	service     FeedProcessor
	worker      ScheduleRunner
	wd          *watchdog.Watchdog
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	nextWatchdogAt  time.Time
	nextRetentionAt time.Time
}

func NewScheduler(feeds database.FeedRepository, schedules database.ScheduleRepository,
	service FeedProcessor, worker ScheduleRunner, wd *watchdog.Watchdog) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	appCfg := cfg.Get()

	return &Scheduler{
		feeds:       feeds,
		schedules:   schedules,
		service:     service,
		worker:      worker,
		wd:          wd,
		interval:    time.Duration(appCfg.SchedulerInterval) * time.Second,
		workerCount: appCfg.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueTasks() {
	now := time.Now().UTC()

	s.enqueueDueFeeds()
	s.enqueueDueSchedules(now)

	if now.After(s.nextWatchdogAt) {
		s.nextWatchdogAt = now.Add(watchdogCadence)
		if err := s.EnqueueTask(NewWatchdogTask(s.wd)); err != nil {
			slog.Warn("Failed to enqueue WatchdogTask", "error", err)
		}
	}

	if now.After(s.nextRetentionAt) {
		s.nextRetentionAt = now.Add(retentionCadence)
		if err := s.EnqueueTask(NewRetentionTask(s.wd)); err != nil {
			slog.Warn("Failed to enqueue RetentionTask", "error", err)
		}
	}
}

func (s *Scheduler) enqueueDueFeeds() {
	feeds, err := s.feeds.GetFeedsDueForRefresh(dueFeedBatch)
	if err != nil {
		slog.Warn("Failed to get feeds due for refresh", "error", err)
		return
	}

	for _, feed := range feeds {
		task := NewPollFeedTask(feed.Name, s.service, s.feeds, s.schedules, s, s.worker)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue PollFeedTask", "feed", feed.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueDueSchedules(now time.Time) {
	schedules, err := s.schedules.GetEnabledSchedules()
	if err != nil {
		slog.Warn("Failed to get enabled schedules", "error", err)
		return
	}

	for _, schedule := range schedules {
		if !ScheduleDue(schedule, now) {
			continue
		}

		task := NewRunScheduleTask(schedule.Name, schedule.ID, s.worker)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue RunScheduleTask", "schedule", schedule.Name, "error", err)
		}
	}
}

// ScheduleDue decides whether a schedule's timer has fired. Immediate-mode
// schedules are event driven (queued by feed polls) and never fire here.
func ScheduleDue(s database.Schedule, now time.Time) bool {
	switch s.Mode {
	case database.ModeInterval:
		if s.IntervalMinutes <= 0 {
			return false
		}
		if s.LastRunAt == nil {
			return true
		}
		return !now.Before(s.LastRunAt.Add(time.Duration(s.IntervalMinutes) * time.Minute))

	case database.ModeFixedTimes:
		local := now.In(time.Local)
		for _, ft := range s.FixedTimes {
			parsed, err := time.ParseInLocation("15:04", ft, time.Local)
			if err != nil {
				continue
			}
			occurrence := time.Date(local.Year(), local.Month(), local.Day(),
				parsed.Hour(), parsed.Minute(), 0, 0, time.Local)
			if occurrence.After(local) {
				continue
			}
			if s.LastRunAt == nil || s.LastRunAt.In(time.Local).Before(occurrence) {
				return true
			}
		}
		return false

	default:
		return false
	}
}

func (s *Scheduler) runWorker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "subject", task.GetSubject(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
