package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
)

// mockDeliveryRepo implements database.DeliveryRepository for testing
type mockDeliveryRepo struct {
	reclaimCutoff  time.Time
	reclaimCount   int64
	reclaimErr     error
	deleteCutoff   time.Time
	deletedCount   int64
	deleteErr      error
}

var _ database.DeliveryRepository = (*mockDeliveryRepo)(nil)

func (m *mockDeliveryRepo) InsertIgnore(scheduleID, itemID, target, status string) (bool, error) {
	return false, nil
}
func (m *mockDeliveryRepo) ExistingPairs(scheduleID string, itemIDs []string) (map[string]bool, error) {
	return nil, nil
}
func (m *mockDeliveryRepo) GetPending(scheduleID, target string) ([]database.Delivery, error) {
	return nil, nil
}
func (m *mockDeliveryRepo) SentExists(itemID, target string) (bool, error) { return false, nil }
func (m *mockDeliveryRepo) MarkProcessing(id string, at time.Time) error   { return nil }
func (m *mockDeliveryRepo) MarkSent(id, messageID, snapshot string, at time.Time) error {
	return nil
}
func (m *mockDeliveryRepo) MarkFailed(id, reason string) error { return nil }
func (m *mockDeliveryRepo) ReclaimStuck(olderThan time.Time) (int64, error) {
	if m.reclaimErr != nil {
		return 0, m.reclaimErr
	}
	m.reclaimCutoff = olderThan
	return m.reclaimCount, nil
}
func (m *mockDeliveryRepo) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deleteCutoff = cutoff
	return m.deletedCount, nil
}
func (m *mockDeliveryRepo) CountByStatus(scheduleID string) (map[string]int, error) {
	return nil, nil
}

// mockItemRepo implements database.ItemRepository for testing
type mockItemRepo struct {
	deleteCutoff time.Time
	deletedCount int64
}

var _ database.ItemRepository = (*mockItemRepo)(nil)

func (m *mockItemRepo) GetItem(id string) (*database.Item, error) { return nil, nil }
func (m *mockItemRepo) GetItemByGUID(feedID, guid string) (*database.Item, error) {
	return nil, nil
}
func (m *mockItemRepo) GetItemByNormalizedLink(feedID, link string) (*database.Item, error) {
	return nil, nil
}
func (m *mockItemRepo) GetRecentItems(feedID string, since time.Time) ([]database.Item, error) {
	return nil, nil
}
func (m *mockItemRepo) InsertItem(item database.Item) (string, error) { return "", nil }
func (m *mockItemRepo) UpdateItem(item database.Item) error           { return nil }
func (m *mockItemRepo) GetItemCount(feedID string) (int, error)       { return 0, nil }
func (m *mockItemRepo) DeleteUnreferencedBefore(cutoff time.Time) (int64, error) {
	m.deleteCutoff = cutoff
	return m.deletedCount, nil
}

// mockSettings overrides integer settings, returning defaults otherwise
type mockSettings struct {
	ints map[string]int
}

var _ database.SettingsRepository = (*mockSettings)(nil)

func (m *mockSettings) Get(key, def string) (string, error) { return def, nil }
func (m *mockSettings) GetInt(key string, def int) (int, error) {
	if v, ok := m.ints[key]; ok {
		return v, nil
	}
	return def, nil
}
func (m *mockSettings) GetFloat(key string, def float64) (float64, error) { return def, nil }

func newTestWatchdog(deliveries *mockDeliveryRepo, items *mockItemRepo,
	settings *mockSettings, now time.Time) *Watchdog {
	wd := NewWatchdog(deliveries, items, settings)
	wd.now = func() time.Time { return now }
	return wd
}

func TestReclaimStuckUsesTimeout(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	deliveries := &mockDeliveryRepo{reclaimCount: 2}
	wd := newTestWatchdog(deliveries, &mockItemRepo{}, &mockSettings{}, now)

	reclaimed, err := wd.ReclaimStuck(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if reclaimed != 2 {
		t.Errorf("Expected 2 reclaimed, got %d", reclaimed)
	}

	expected := now.Add(-DefaultTimeoutMins * time.Minute)
	if !deliveries.reclaimCutoff.Equal(expected) {
		t.Errorf("Expected cutoff %v, got %v", expected, deliveries.reclaimCutoff)
	}
}

func TestReclaimStuckEnforcesMinimumTimeout(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	deliveries := &mockDeliveryRepo{}
	settings := &mockSettings{ints: map[string]int{
		database.SettingProcessingTimeoutMins: 1,
	}}
	wd := newTestWatchdog(deliveries, &mockItemRepo{}, settings, now)

	if _, err := wd.ReclaimStuck(context.Background()); err != nil {
		t.Fatal(err)
	}

	expected := now.Add(-MinTimeoutMins * time.Minute)
	if !deliveries.reclaimCutoff.Equal(expected) {
		t.Errorf("Expected timeout floor of %d minutes, cutoff %v, got %v",
			MinTimeoutMins, expected, deliveries.reclaimCutoff)
	}
}

func TestReclaimStuckError(t *testing.T) {
	deliveries := &mockDeliveryRepo{reclaimErr: errors.New("connection lost")}
	wd := newTestWatchdog(deliveries, &mockItemRepo{}, &mockSettings{}, time.Now())

	if _, err := wd.ReclaimStuck(context.Background()); err == nil {
		t.Error("Expected error to propagate")
	}
}

func TestSweepDeletesDeliveriesThenItems(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	deliveries := &mockDeliveryRepo{deletedCount: 5}
	items := &mockItemRepo{deletedCount: 3}
	wd := newTestWatchdog(deliveries, items, &mockSettings{}, now)

	stats, err := wd.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.DeliveriesDeleted != 5 || stats.ItemsDeleted != 3 {
		t.Errorf("Expected 5 deliveries and 3 items deleted, got %d and %d",
			stats.DeliveriesDeleted, stats.ItemsDeleted)
	}

	expected := now.AddDate(0, 0, -DefaultRetention)
	if !deliveries.deleteCutoff.Equal(expected) {
		t.Errorf("Expected delivery cutoff %v, got %v", expected, deliveries.deleteCutoff)
	}
	if !items.deleteCutoff.Equal(expected) {
		t.Errorf("Expected item cutoff %v, got %v", expected, items.deleteCutoff)
	}
}

func TestSweepStopsOnDeliveryError(t *testing.T) {
	deliveries := &mockDeliveryRepo{deleteErr: errors.New("connection lost")}
	items := &mockItemRepo{}
	wd := newTestWatchdog(deliveries, items, &mockSettings{}, time.Now())

	if _, err := wd.Sweep(context.Background()); err == nil {
		t.Error("Expected error to propagate")
	}
	if !items.deleteCutoff.IsZero() {
		t.Error("Expected item pruning to be skipped after delivery pruning failed")
	}
}
