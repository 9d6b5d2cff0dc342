package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedcourier/feedcourier/app/database"
)

// Builder turns newly inserted or changed feed items into per-target delivery
// obligations for every enabled schedule bound to the feed.
type Builder struct {
	schedules  database.ScheduleRepository
	deliveries database.DeliveryRepository
}

func NewBuilder(schedules database.ScheduleRepository, deliveries database.DeliveryRepository) *Builder {
	return &Builder{
		schedules:  schedules,
		deliveries: deliveries,
	}
}

// Run computes the (item, target) pairs not already covered by an obligation
// and inserts the missing ones. The insert ignores conflicts on the unique
// (schedule, item, target) key, so overlapping fan-out runs from concurrent
// polls never create duplicates. Returns the number of obligations created.
func (b *Builder) Run(ctx context.Context, feedID string, items []database.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	schedules, err := b.schedules.GetEnabledSchedulesForFeed(feedID)
	if err != nil {
		return 0, fmt.Errorf("failed to get schedules for feed: %w", err)
	}

	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}

	created := 0
	for _, schedule := range schedules {
		if len(schedule.Targets) == 0 {
			slog.Debug("Schedule has no targets, skipping fan-out", "schedule", schedule.Name)
			continue
		}

		select {
		case <-ctx.Done():
			return created, ctx.Err()
		default:
		}

		existing, err := b.deliveries.ExistingPairs(schedule.ID, itemIDs)
		if err != nil {
			return created, fmt.Errorf("failed to get existing pairs for schedule %s: %w", schedule.Name, err)
		}

		status := database.StatusPending
		if schedule.RequireApproval {
			status = database.StatusAwaitingApproval
		}

		for _, item := range items {
			for _, target := range schedule.Targets {
				if existing[item.ID+"|"+target] {
					continue
				}

				inserted, err := b.deliveries.InsertIgnore(schedule.ID, item.ID, target, status)
				if err != nil {
					return created, fmt.Errorf("failed to insert obligation for schedule %s: %w", schedule.Name, err)
				}
				if inserted {
					created++
				}
			}
		}
	}

	return created, nil
}
