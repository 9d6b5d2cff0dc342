package api

import (
	"context"

	"github.com/feedcourier/feedcourier/app/config"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/delivery"
	"github.com/feedcourier/feedcourier/app/ingest"
	"github.com/feedcourier/feedcourier/app/tasks"
)

type IngestServiceInterface interface {
	ProcessFeed(ctx context.Context, name string) (ingest.RunStats, error)
}

type DeliveryWorkerInterface interface {
	RunSchedule(ctx context.Context, scheduleID string) (delivery.RunResult, error)
	Diagnostics(ctx context.Context, scheduleID string) (*delivery.Diagnostics, error)
}

var _ IngestServiceInterface = (*ingest.Service)(nil)
var _ DeliveryWorkerInterface = (*delivery.Worker)(nil)

type Handler struct {
	loader     *config.Loader
	feedRepo   database.FeedRepository
	schedRepo  database.ScheduleRepository
	deliveries database.DeliveryRepository
	service    IngestServiceInterface
	worker     DeliveryWorkerInterface
	scheduler  tasks.TaskSchedulerInterface
}
