package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var _ ItemRepository = (*itemRepository)(nil)

type itemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) ItemRepository {
	return &itemRepository{db: db}
}

const itemColumns = `id, feed_id, guid, COALESCE(link, ''), COALESCE(normalized_link, ''),
	       COALESCE(title, ''), COALESCE(normalized_title, ''),
	       COALESCE(description, ''), COALESCE(content, ''),
	       COALESCE(author, ''), COALESCE(image_url, ''),
	       published_at, COALESCE(categories, '{}'), COALESCE(fingerprint, ''),
	       created_at, updated_at`

func (r *itemRepository) GetItem(id string) (*Item, error) {
	return r.getItemWhere("id = $1", id)
}

func (r *itemRepository) GetItemByGUID(feedID, guid string) (*Item, error) {
	return r.getItemWhere("feed_id = $1 AND guid = $2", feedID, guid)
}

func (r *itemRepository) GetItemByNormalizedLink(feedID, link string) (*Item, error) {
	if link == "" {
		return nil, nil
	}
	return r.getItemWhere("feed_id = $1 AND normalized_link = $2", feedID, link)
}

func (r *itemRepository) getItemWhere(cond string, args ...interface{}) (*Item, error) {
	var item Item
	err := r.db.QueryRow(`
		SELECT `+itemColumns+`
		FROM feed_items
		WHERE `+cond+`
		LIMIT 1`, args...).Scan(
		&item.ID, &item.FeedID, &item.GUID, &item.Link, &item.NormalizedLink,
		&item.Title, &item.NormalizedTitle, &item.Description, &item.Content,
		&item.Author, &item.ImageURL, &item.PublishedAt, pq.Array(&item.Categories),
		&item.Fingerprint, &item.CreatedAt, &item.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return &item, nil
}

// GetRecentItems returns items for a feed created at or after the given time,
// used as the comparison window for duplicate detection.
func (r *itemRepository) GetRecentItems(feedID string, since time.Time) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT `+itemColumns+`
		FROM feed_items
		WHERE feed_id = $1
		  AND created_at >= $2
		ORDER BY created_at DESC
	`, feedID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID, &item.FeedID, &item.GUID, &item.Link, &item.NormalizedLink,
			&item.Title, &item.NormalizedTitle, &item.Description, &item.Content,
			&item.Author, &item.ImageURL, &item.PublishedAt, pq.Array(&item.Categories),
			&item.Fingerprint, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

func (r *itemRepository) InsertItem(item Item) (string, error) {
	var id string
	err := r.db.QueryRow(`
		INSERT INTO feed_items (
			feed_id, guid, link, normalized_link, title, normalized_title,
			description, content, author, image_url, published_at, categories, fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, item.FeedID, item.GUID, item.Link, item.NormalizedLink, item.Title,
		item.NormalizedTitle, item.Description, item.Content, item.Author,
		item.ImageURL, item.PublishedAt, pq.Array(item.Categories), item.Fingerprint).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to insert item: %w", err)
	}

	return id, nil
}

func (r *itemRepository) UpdateItem(item Item) error {
	_, err := r.db.Exec(`
		UPDATE feed_items
		SET link = $2, normalized_link = $3, title = $4, normalized_title = $5,
		    description = $6, content = $7, author = $8, image_url = $9,
		    published_at = $10, categories = $11, fingerprint = $12, updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.Link, item.NormalizedLink, item.Title, item.NormalizedTitle,
		item.Description, item.Content, item.Author, item.ImageURL,
		item.PublishedAt, pq.Array(item.Categories), item.Fingerprint)

	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	return nil
}

func (r *itemRepository) GetItemCount(feedID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM feed_items WHERE feed_id = $1", feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// DeleteUnreferencedBefore removes items past the retention cutoff that no
// delivery still references, so queued deliveries keep their rendering data.
func (r *itemRepository) DeleteUnreferencedBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM feed_items
		WHERE created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM deliveries WHERE deliveries.item_id = feed_items.id
		  )
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired items: %w", err)
	}

	return result.RowsAffected()
}
