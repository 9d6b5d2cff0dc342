package ingest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/dedup"
	"github.com/feedcourier/feedcourier/app/fetch"
	"github.com/feedcourier/feedcourier/app/normalize"
)

const (
	DefaultWindowLimit   = 500
	DefaultRetentionDays = 14
)

// RunStats summarizes one ingestion run for a feed
type RunStats struct {
	Feed        string `json:"feed"`
	Fetched     int    `json:"fetched"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Duplicates  int    `json:"duplicates"`
	Errors      int    `json:"errors"`
	NotModified bool   `json:"not_modified"`
}

type Pipeline struct {
	feeds    database.FeedRepository
	items    database.ItemRepository
	dedup    *dedup.Engine
	settings database.SettingsRepository
}

func NewPipeline(feeds database.FeedRepository, items database.ItemRepository,
	dedupEngine *dedup.Engine, settings database.SettingsRepository) *Pipeline {
	return &Pipeline{
		feeds:    feeds,
		items:    items,
		dedup:    dedupEngine,
		settings: settings,
	}
}

// Run consumes a fetch result for the feed, classifies every candidate as
// insert, update, unchanged or duplicate, and persists accordingly. Returns
// the run counters plus the inserted/updated rows for fan-out.
func (p *Pipeline) Run(ctx context.Context, feed *database.Feed, result *fetch.Result) (RunStats, []database.Item) {
	stats := RunStats{Feed: feed.Name}
	nextFetch := time.Now().UTC().Add(time.Duration(feed.RefreshInterval) * time.Second)

	if result.NotModified {
		stats.NotModified = true
		if err := p.feeds.MarkFetchSuccess(feed.ID, result.Etag, result.LastModified, result.DetectedType, nextFetch); err != nil {
			slog.Warn("Failed to record not-modified poll", "feed", feed.Name, "error", err)
		}
		return stats, nil
	}

	candidates := p.sourceWindow(feed, result.Items)
	stats.Fetched = len(result.Items)

	threshold, err := p.settings.GetFloat(database.SettingDedupThreshold, dedup.DefaultThreshold)
	if err != nil {
		threshold = dedup.DefaultThreshold
	}
	retentionDays, err := p.settings.GetInt(database.SettingRetentionDays, DefaultRetentionDays)
	if err != nil {
		retentionDays = DefaultRetentionDays
	}
	since := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var changed []database.Item

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			return stats, changed
		default:
		}

		incoming := buildItem(feed.ID, candidate)

		existing, err := p.resolveExisting(feed.ID, incoming)
		if err != nil {
			slog.Warn("Failed to resolve existing item", "feed", feed.Name, "guid", incoming.GUID, "error", err)
			stats.Errors++
			continue
		}

		if existing == nil {
			duplicate := p.dedup.IsDuplicate(dedup.Candidate{
				Fingerprint:     incoming.Fingerprint,
				NormalizedLink:  incoming.NormalizedLink,
				NormalizedTitle: incoming.NormalizedTitle,
			}, feed.ID, since, threshold)

			if duplicate {
				stats.Duplicates++
				continue
			}

			id, err := p.items.InsertItem(incoming)
			if err != nil {
				if database.IsForeignKeyViolation(err) {
					// Feed deleted mid-run: abandon the remaining candidates
					// without treating the run as a fetch failure
					slog.Warn("Feed disappeared during ingestion, aborting run", "feed", feed.Name)
					return stats, changed
				}
				if database.IsUniqueViolation(err) {
					// Concurrent run inserted the same item first
					stats.Duplicates++
					continue
				}
				slog.Warn("Failed to insert item", "feed", feed.Name, "guid", incoming.GUID, "error", err)
				stats.Errors++
				continue
			}

			incoming.ID = id
			stats.Inserted++
			changed = append(changed, incoming)
			continue
		}

		if Changed(*existing, incoming) {
			incoming.ID = existing.ID
			incoming.CreatedAt = existing.CreatedAt
			if err := p.items.UpdateItem(incoming); err != nil {
				slog.Warn("Failed to update item", "feed", feed.Name, "guid", incoming.GUID, "error", err)
				stats.Errors++
				continue
			}
			stats.Updated++
			changed = append(changed, incoming)
		} else {
			// Unchanged reappearance counts as a duplicate for reporting
			stats.Duplicates++
		}
	}

	if err := p.feeds.MarkFetchSuccess(feed.ID, result.Etag, result.LastModified, result.DetectedType, nextFetch); err != nil {
		slog.Warn("Failed to record successful poll", "feed", feed.Name, "error", err)
	}

	return stats, changed
}

// sourceWindow bounds and orders the candidates for one run. The very first
// successful run processes only the single most recent item so activating a
// feed does not replay its entire archive; later runs take the most recent N
// items, emitted oldest-first so insert order matches publish order.
func (p *Pipeline) sourceWindow(feed *database.Feed, items []fetch.Candidate) []fetch.Candidate {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]fetch.Candidate, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return publishedOrZero(sorted[i]).Before(publishedOrZero(sorted[j]))
	})

	if feed.LastSuccessAt == nil {
		return sorted[len(sorted)-1:]
	}

	limit, err := p.settings.GetInt(database.SettingFetchWindowLimit, DefaultWindowLimit)
	if err != nil {
		limit = DefaultWindowLimit
	}
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	return sorted
}

func publishedOrZero(c fetch.Candidate) time.Time {
	if c.PublishedAt != nil {
		return *c.PublishedAt
	}
	return time.Time{}
}

// resolveExisting resolves item identity by external identifier first, falling
// back to the normalized URL, scoped to the feed.
func (p *Pipeline) resolveExisting(feedID string, incoming database.Item) (*database.Item, error) {
	existing, err := p.items.GetItemByGUID(feedID, incoming.GUID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return p.items.GetItemByNormalizedLink(feedID, incoming.NormalizedLink)
}

func buildItem(feedID string, c fetch.Candidate) database.Item {
	return database.Item{
		FeedID:          feedID,
		GUID:            c.GUID,
		Link:            c.Link,
		NormalizedLink:  normalize.URL(c.Link),
		Title:           c.Title,
		NormalizedTitle: normalize.Title(c.Title),
		Description:     c.Description,
		Content:         c.Content,
		Author:          c.Author,
		ImageURL:        c.ImageURL,
		PublishedAt:     c.PublishedAt,
		Categories:      c.Categories,
		Fingerprint:     normalize.Fingerprint(c.Title, c.Link),
	}
}
