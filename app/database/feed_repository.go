package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ FeedRepository = (*feedRepository)(nil)

type feedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

const feedColumns = `id, name, feed_url, detected_format, enabled, refresh_interval, fetch_timeout,
	       etag, last_modified, last_fetched_at, last_success_at, next_fetch_at,
	       failure_count, last_error, created_at, updated_at`

// UpsertFeed registers a feed from configuration, updating the URL and polling
// parameters if the feed already exists. Returns the database UUID.
func (r *feedRepository) UpsertFeed(name, url string, refreshInterval, fetchTimeout int, enabled bool) (string, error) {
	var id string
	err := r.db.QueryRow(`
		INSERT INTO feeds (name, feed_url, refresh_interval, fetch_timeout, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			feed_url = EXCLUDED.feed_url,
			refresh_interval = EXCLUDED.refresh_interval,
			fetch_timeout = EXCLUDED.fetch_timeout,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id
	`, name, url, refreshInterval, fetchTimeout, enabled).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert feed: %w", err)
	}

	return id, nil
}

func (r *feedRepository) GetFeed(name string) (*Feed, error) {
	return r.getFeedWhere("name = $1", name)
}

func (r *feedRepository) GetFeedByID(id string) (*Feed, error) {
	return r.getFeedWhere("id = $1", id)
}

func (r *feedRepository) getFeedWhere(cond string, arg interface{}) (*Feed, error) {
	var feed Feed
	err := r.db.QueryRow(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE `+cond, arg).Scan(
		&feed.ID, &feed.Name, &feed.URL, &feed.DetectedFormat, &feed.Enabled,
		&feed.RefreshInterval, &feed.FetchTimeout, &feed.Etag, &feed.LastModified,
		&feed.LastFetchedAt, &feed.LastSuccessAt, &feed.NextFetchAt,
		&feed.FailureCount, &feed.LastError, &feed.CreatedAt, &feed.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return &feed, nil
}

func (r *feedRepository) GetEnabledFeeds() ([]Feed, error) {
	rows, err := r.db.Query(`
		SELECT ` + feedColumns + `
		FROM feeds
		WHERE enabled = true
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled feeds: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

// GetFeedsDueForRefresh returns enabled feeds whose next fetch time has passed
func (r *feedRepository) GetFeedsDueForRefresh(limit int) ([]Feed, error) {
	rows, err := r.db.Query(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE enabled = true
		  AND (next_fetch_at IS NULL OR next_fetch_at <= NOW())
		ORDER BY COALESCE(next_fetch_at, '1970-01-01'::timestamptz)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds due for refresh: %w", err)
	}
	defer rows.Close()

	return scanFeeds(rows)
}

func scanFeeds(rows *sql.Rows) ([]Feed, error) {
	var feeds []Feed
	for rows.Next() {
		var feed Feed
		err := rows.Scan(
			&feed.ID, &feed.Name, &feed.URL, &feed.DetectedFormat, &feed.Enabled,
			&feed.RefreshInterval, &feed.FetchTimeout, &feed.Etag, &feed.LastModified,
			&feed.LastFetchedAt, &feed.LastSuccessAt, &feed.NextFetchAt,
			&feed.FailureCount, &feed.LastError, &feed.CreatedAt, &feed.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

// MarkFetchSuccess records a successful poll: clears the error state, resets the
// failure counter and persists new conditional fetch validators.
func (r *feedRepository) MarkFetchSuccess(id, etag, lastModified, detectedFormat string, nextFetch time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET etag = $2, last_modified = $3, detected_format = $4,
		    last_fetched_at = NOW(), last_success_at = NOW(), next_fetch_at = $5,
		    failure_count = 0, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, id, etag, lastModified, detectedFormat, nextFetch)

	if err != nil {
		return fmt.Errorf("failed to mark fetch success: %w", err)
	}

	return nil
}

// MarkFetchFailure records a failed poll and increments the consecutive failure
// counter used by external backoff and alerting.
func (r *feedRepository) MarkFetchFailure(id, errMsg string, nextFetch time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_fetched_at = NOW(), next_fetch_at = $3,
		    failure_count = failure_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg, nextFetch)

	if err != nil {
		return fmt.Errorf("failed to mark fetch failure: %w", err)
	}

	return nil
}

func (r *feedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}
