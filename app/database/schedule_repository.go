package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var _ ScheduleRepository = (*scheduleRepository)(nil)

type scheduleRepository struct {
	db *DB
}

func NewScheduleRepository(db *DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = `id, feed_id, name, mode, interval_minutes, fixed_times, targets,
	       enabled, require_approval, last_run_at, created_at, updated_at`

// UpsertSchedule registers a schedule from configuration. Last-run state is
// preserved across config reloads.
func (r *scheduleRepository) UpsertSchedule(s Schedule) (string, error) {
	var id string
	err := r.db.QueryRow(`
		INSERT INTO schedules (feed_id, name, mode, interval_minutes, fixed_times, targets, enabled, require_approval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			feed_id = EXCLUDED.feed_id,
			mode = EXCLUDED.mode,
			interval_minutes = EXCLUDED.interval_minutes,
			fixed_times = EXCLUDED.fixed_times,
			targets = EXCLUDED.targets,
			enabled = EXCLUDED.enabled,
			require_approval = EXCLUDED.require_approval,
			updated_at = NOW()
		RETURNING id
	`, s.FeedID, s.Name, s.Mode, s.IntervalMinutes, pq.Array(s.FixedTimes),
		pq.Array(s.Targets), s.Enabled, s.RequireApproval).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert schedule: %w", err)
	}

	return id, nil
}

func (r *scheduleRepository) GetSchedule(id string) (*Schedule, error) {
	return r.getScheduleWhere("id = $1", id)
}

func (r *scheduleRepository) GetScheduleByName(name string) (*Schedule, error) {
	return r.getScheduleWhere("name = $1", name)
}

func (r *scheduleRepository) getScheduleWhere(cond string, arg interface{}) (*Schedule, error) {
	var s Schedule
	err := r.db.QueryRow(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE `+cond, arg).Scan(
		&s.ID, &s.FeedID, &s.Name, &s.Mode, &s.IntervalMinutes,
		pq.Array(&s.FixedTimes), pq.Array(&s.Targets),
		&s.Enabled, &s.RequireApproval, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &s, nil
}

func (r *scheduleRepository) GetEnabledSchedules() ([]Schedule, error) {
	return r.getSchedulesWhere("enabled = true")
}

func (r *scheduleRepository) GetEnabledSchedulesForFeed(feedID string) ([]Schedule, error) {
	return r.getSchedulesWhere("enabled = true AND feed_id = $1", feedID)
}

func (r *scheduleRepository) getSchedulesWhere(cond string, args ...interface{}) ([]Schedule, error) {
	rows, err := r.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE `+cond+`
		ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var s Schedule
		err := rows.Scan(
			&s.ID, &s.FeedID, &s.Name, &s.Mode, &s.IntervalMinutes,
			pq.Array(&s.FixedTimes), pq.Array(&s.Targets),
			&s.Enabled, &s.RequireApproval, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}

	return schedules, nil
}

func (r *scheduleRepository) UpdateLastRun(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE schedules
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)

	if err != nil {
		return fmt.Errorf("failed to update schedule last run: %w", err)
	}

	return nil
}
