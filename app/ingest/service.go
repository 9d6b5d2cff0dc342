package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/fanout"
	"github.com/feedcourier/feedcourier/app/fetch"
	"github.com/feedcourier/feedcourier/app/metrics"
)

// Service orchestrates one feed poll: fetch, ingest, fan out
type Service struct {
	feeds   database.FeedRepository
	fetcher fetch.Fetcher
	pipe    *Pipeline
	builder *fanout.Builder
}

func NewService(feeds database.FeedRepository, fetcher fetch.Fetcher,
	pipe *Pipeline, builder *fanout.Builder) *Service {
	return &Service{
		feeds:   feeds,
		fetcher: fetcher,
		pipe:    pipe,
		builder: builder,
	}
}

// ProcessFeed polls a single feed by name. Fetch failures are recorded on the
// feed (error text, failure counter) and returned; the next poll cycle retries.
func (s *Service) ProcessFeed(ctx context.Context, name string) (RunStats, error) {
	feed, err := s.feeds.GetFeed(name)
	if err != nil {
		return RunStats{Feed: name}, fmt.Errorf("failed to load feed: %w", err)
	}
	if feed == nil {
		return RunStats{Feed: name}, fmt.Errorf("feed %q not found", name)
	}

	return s.processFeed(ctx, feed)
}

// ProcessAllActiveFeeds polls every enabled feed once, sequentially
func (s *Service) ProcessAllActiveFeeds(ctx context.Context) ([]RunStats, error) {
	feeds, err := s.feeds.GetEnabledFeeds()
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled feeds: %w", err)
	}

	stats := make([]RunStats, 0, len(feeds))
	for i := range feeds {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		runStats, err := s.processFeed(ctx, &feeds[i])
		if err != nil {
			slog.Warn("Feed poll failed", "feed", feeds[i].Name, "error", err)
		}
		stats = append(stats, runStats)
	}

	return stats, nil
}

func (s *Service) processFeed(ctx context.Context, feed *database.Feed) (RunStats, error) {
	result, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		nextFetch := time.Now().UTC().Add(time.Duration(feed.RefreshInterval) * time.Second)
		if markErr := s.feeds.MarkFetchFailure(feed.ID, err.Error(), nextFetch); markErr != nil {
			slog.Warn("Failed to record fetch failure", "feed", feed.Name, "error", markErr)
		}
		return RunStats{Feed: feed.Name, Errors: 1}, fmt.Errorf("failed to fetch feed: %w", err)
	}

	stats, changed := s.pipe.Run(ctx, feed, result)

	if len(changed) > 0 {
		created, err := s.builder.Run(ctx, feed.ID, changed)
		if err != nil {
			slog.Warn("Fan-out incomplete", "feed", feed.Name, "created", created, "error", err)
		} else if created > 0 {
			slog.Info("Obligations queued", "feed", feed.Name, "count", created)
		}
		metrics.ObligationsCreated.Add(float64(created))
	}

	return stats, nil
}
