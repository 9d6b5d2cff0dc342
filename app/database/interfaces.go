package database

import (
	"time"
)

type FeedRepository interface {
	UpsertFeed(name, url string, refreshInterval, fetchTimeout int, enabled bool) (string, error)
	GetFeed(name string) (*Feed, error)
	GetFeedByID(id string) (*Feed, error)
	GetEnabledFeeds() ([]Feed, error)
	GetFeedsDueForRefresh(limit int) ([]Feed, error)
	MarkFetchSuccess(id, etag, lastModified, detectedFormat string, nextFetch time.Time) error
	MarkFetchFailure(id, errMsg string, nextFetch time.Time) error
	GetFeedCount() (int, error)
}

type ItemRepository interface {
	GetItem(id string) (*Item, error)
	GetItemByGUID(feedID, guid string) (*Item, error)
	GetItemByNormalizedLink(feedID, link string) (*Item, error)
	GetRecentItems(feedID string, since time.Time) ([]Item, error)
	InsertItem(item Item) (string, error)
	UpdateItem(item Item) error
	GetItemCount(feedID string) (int, error)
	DeleteUnreferencedBefore(cutoff time.Time) (int64, error)
}

type ScheduleRepository interface {
	UpsertSchedule(s Schedule) (string, error)
	GetSchedule(id string) (*Schedule, error)
	GetScheduleByName(name string) (*Schedule, error)
	GetEnabledSchedules() ([]Schedule, error)
	GetEnabledSchedulesForFeed(feedID string) ([]Schedule, error)
	UpdateLastRun(id string, at time.Time) error
}

type DeliveryRepository interface {
	InsertIgnore(scheduleID, itemID, target, status string) (bool, error)
	ExistingPairs(scheduleID string, itemIDs []string) (map[string]bool, error)
	GetPending(scheduleID, target string) ([]Delivery, error)
	SentExists(itemID, target string) (bool, error)
	MarkProcessing(id string, at time.Time) error
	MarkSent(id, messageID, snapshot string, at time.Time) error
	MarkFailed(id, reason string) error
	ReclaimStuck(olderThan time.Time) (int64, error)
	DeleteTerminalBefore(cutoff time.Time) (int64, error)
	CountByStatus(scheduleID string) (map[string]int, error)
}

type SettingsRepository interface {
	Get(key, def string) (string, error)
	GetInt(key string, def int) (int, error)
	GetFloat(key string, def float64) (float64, error)
}

type LockRepository interface {
	TryAcquire(scheduleID, holder string, until time.Time) (bool, error)
	Release(scheduleID, holder string) error
}
