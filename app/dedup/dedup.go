package dedup

import (
	"log/slog"
	"time"

	"github.com/agext/levenshtein"

	"github.com/feedcourier/feedcourier/app/database"
)

const DefaultThreshold = 0.88

// RecentItemSource provides the scope-bounded comparison window
type RecentItemSource interface {
	GetRecentItems(feedID string, since time.Time) ([]database.Item, error)
}

// Candidate carries the normalized forms of an incoming item
type Candidate struct {
	Fingerprint     string
	NormalizedLink  string
	NormalizedTitle string
}

type Engine struct {
	items RecentItemSource
}

func NewEngine(items RecentItemSource) *Engine {
	return &Engine{items: items}
}

// IsDuplicate reports whether the candidate duplicates an item already stored
// for the feed since the given time. Exact fingerprint or normalized link
// matches short-circuit; otherwise titles are compared by normalized edit
// distance against the threshold.
//
// A store read failure is treated as "not a duplicate": a transient outage
// must not silently suppress content. The unique keys downstream absorb any
// duplicate insert admitted this way.
func (e *Engine) IsDuplicate(candidate Candidate, feedID string, since time.Time, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	recent, err := e.items.GetRecentItems(feedID, since)
	if err != nil {
		slog.Warn("Duplicate check failed, treating item as new", "feed_id", feedID, "error", err)
		return false
	}

	for _, item := range recent {
		if candidate.Fingerprint != "" && item.Fingerprint == candidate.Fingerprint {
			return true
		}
		if candidate.NormalizedLink != "" && item.NormalizedLink == candidate.NormalizedLink {
			return true
		}
	}

	if candidate.NormalizedTitle == "" {
		return false
	}

	for _, item := range recent {
		if item.NormalizedTitle == "" {
			continue
		}
		score := levenshtein.Similarity(candidate.NormalizedTitle, item.NormalizedTitle, nil)
		if score >= threshold {
			return true
		}
	}

	return false
}
