package tasks

// TaskSchedulerInterface manages the background task queue and worker pool.
// Example usage:
//
//	scheduler := NewScheduler(feedRepo, scheduleRepo, service, worker, wd)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
