package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

var _ DeliveryRepository = (*deliveryRepository)(nil)

type deliveryRepository struct {
	db *DB
}

func NewDeliveryRepository(db *DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

const deliveryColumns = `id, schedule_id, item_id, target, status, created_at,
	       processing_started_at, sent_at, delivered_at, read_at,
	       COALESCE(content_snapshot, ''), COALESCE(error, ''), COALESCE(transport_message_id, '')`

// InsertIgnore inserts a delivery obligation, silently skipping the insert when
// the (schedule, item, target) triple already exists. Returns whether a row was
// actually created.
func (r *deliveryRepository) InsertIgnore(scheduleID, itemID, target, status string) (bool, error) {
	result, err := r.db.Exec(`
		INSERT INTO deliveries (schedule_id, item_id, target, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schedule_id, item_id, target) DO NOTHING
	`, scheduleID, itemID, target, status)

	if err != nil {
		return false, fmt.Errorf("failed to insert delivery: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// ExistingPairs returns the set of "itemID|target" keys already queued or sent
// for the given schedule, restricted to the candidate item ids.
func (r *deliveryRepository) ExistingPairs(scheduleID string, itemIDs []string) (map[string]bool, error) {
	pairs := make(map[string]bool)
	if len(itemIDs) == 0 {
		return pairs, nil
	}

	rows, err := r.db.Query(`
		SELECT item_id, target
		FROM deliveries
		WHERE schedule_id = $1
		  AND item_id = ANY($2)
	`, scheduleID, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get existing delivery pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var itemID, target string
		if err := rows.Scan(&itemID, &target); err != nil {
			return nil, fmt.Errorf("failed to scan delivery pair: %w", err)
		}
		pairs[itemID+"|"+target] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery pairs: %w", err)
	}

	return pairs, nil
}

// GetPending returns pending deliveries for a schedule and target, oldest first
func (r *deliveryRepository) GetPending(scheduleID, target string) ([]Delivery, error) {
	rows, err := r.db.Query(`
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE schedule_id = $1
		  AND target = $2
		  AND status = $3
		ORDER BY created_at ASC
	`, scheduleID, target, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		err := rows.Scan(
			&d.ID, &d.ScheduleID, &d.ItemID, &d.Target, &d.Status, &d.CreatedAt,
			&d.ProcessingStartedAt, &d.SentAt, &d.DeliveredAt, &d.ReadAt,
			&d.ContentSnapshot, &d.Error, &d.TransportMessageID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery rows: %w", err)
	}

	return deliveries, nil
}

// SentExists reports whether the item was already sent to the target under any
// schedule. Cross-schedule duplicate suppression relies on this check.
func (r *deliveryRepository) SentExists(itemID, target string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM deliveries
			WHERE item_id = $1 AND target = $2 AND status = $3
		)
	`, itemID, target, StatusSent).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check sent deliveries: %w", err)
	}

	return exists, nil
}

func (r *deliveryRepository) MarkProcessing(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE deliveries
		SET status = $2, processing_started_at = $3
		WHERE id = $1
	`, id, StatusProcessing, at)

	if err != nil {
		return fmt.Errorf("failed to mark delivery processing: %w", err)
	}

	return nil
}

func (r *deliveryRepository) MarkSent(id, messageID, snapshot string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE deliveries
		SET status = $2, transport_message_id = $3, content_snapshot = $4, sent_at = $5, error = ''
		WHERE id = $1
	`, id, StatusSent, messageID, snapshot, at)

	if err != nil {
		return fmt.Errorf("failed to mark delivery sent: %w", err)
	}

	return nil
}

func (r *deliveryRepository) MarkFailed(id, reason string) error {
	_, err := r.db.Exec(`
		UPDATE deliveries
		SET status = $2, error = $3
		WHERE id = $1
	`, id, StatusFailed, reason)

	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}

	return nil
}

// ReclaimStuck resets deliveries stuck in processing since before the given
// time back to pending, clearing the processing start timestamp. Sent and
// failed deliveries are never touched.
func (r *deliveryRepository) ReclaimStuck(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(`
		UPDATE deliveries
		SET status = $1, processing_started_at = NULL
		WHERE status = $2
		  AND processing_started_at IS NOT NULL
		  AND processing_started_at < $3
	`, StatusPending, StatusProcessing, olderThan)

	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck deliveries: %w", err)
	}

	return result.RowsAffected()
}

// DeleteTerminalBefore removes sent and failed deliveries created before the
// retention cutoff.
func (r *deliveryRepository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM deliveries
		WHERE status = ANY($1)
		  AND created_at < $2
	`, pq.Array([]string{StatusSent, StatusFailed}), cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to delete expired deliveries: %w", err)
	}

	return result.RowsAffected()
}

func (r *deliveryRepository) CountByStatus(scheduleID string) (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT status, COUNT(*)
		FROM deliveries
		WHERE schedule_id = $1
		GROUP BY status
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery counts: %w", err)
	}

	return counts, nil
}
