package database

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Setting keys with their built-in defaults, materialized lazily on first read
const (
	SettingDedupThreshold        = "dedup_threshold"          // fuzzy match ratio in [0,1]
	SettingRetentionDays         = "retention_days"
	SettingProcessingTimeoutMins = "processing_timeout_mins"
	SettingFetchWindowLimit      = "fetch_window_limit"       // 0 = unbounded
	SettingSendDelayMs           = "send_delay_ms"
	SettingMessageTemplate       = "message_template"
	SettingBlackoutLocation      = "blackout_location"
	SettingBlackoutStartMins     = "blackout_start_mins"      // minutes from local midnight
	SettingBlackoutEndMins       = "blackout_end_mins"
	SettingBlackoutCacheHours    = "blackout_cache_hours"
)

var _ SettingsRepository = (*settingsRepository)(nil)

type settingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// Get returns the stored value for a key. A missing key is materialized with
// the supplied default so operators can see and edit every tunable in place.
func (r *settingsRepository) Get(key, def string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		_, insErr := r.db.Exec(`
			INSERT INTO settings (key, value)
			VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`, key, def)
		if insErr != nil {
			return "", fmt.Errorf("failed to materialize default setting %s: %w", key, insErr)
		}
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	return value, nil
}

func (r *settingsRepository) GetInt(key string, def int) (int, error) {
	value, err := r.Get(key, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}

	return n, nil
}

func (r *settingsRepository) GetFloat(key string, def float64) (float64, error) {
	value, err := r.Get(key, strconv.FormatFloat(def, 'f', -1, 64))
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not a number: %w", key, err)
	}

	return f, nil
}
