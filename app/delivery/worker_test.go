package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedcourier/feedcourier/app/blackout"
	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/lock"
)

// mockScheduleRepo implements database.ScheduleRepository for testing
type mockScheduleRepo struct {
	schedule    *database.Schedule
	lastRunSets int
}

var _ database.ScheduleRepository = (*mockScheduleRepo)(nil)

func (m *mockScheduleRepo) UpsertSchedule(s database.Schedule) (string, error) { return "", nil }
func (m *mockScheduleRepo) GetSchedule(id string) (*database.Schedule, error) {
	return m.schedule, nil
}
func (m *mockScheduleRepo) GetScheduleByName(name string) (*database.Schedule, error) {
	return m.schedule, nil
}
func (m *mockScheduleRepo) GetEnabledSchedules() ([]database.Schedule, error) { return nil, nil }
func (m *mockScheduleRepo) GetEnabledSchedulesForFeed(feedID string) ([]database.Schedule, error) {
	return nil, nil
}
func (m *mockScheduleRepo) UpdateLastRun(id string, at time.Time) error {
	m.lastRunSets++
	return nil
}

// mockDeliveryRepo implements database.DeliveryRepository for testing
type mockDeliveryRepo struct {
	pending    map[string][]database.Delivery
	sentPairs  map[string]bool
	processing []string
	sent       []string
	failed     map[string]string
	counts     map[string]int
}

var _ database.DeliveryRepository = (*mockDeliveryRepo)(nil)

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{
		pending:   make(map[string][]database.Delivery),
		sentPairs: make(map[string]bool),
		failed:    make(map[string]string),
	}
}

func (m *mockDeliveryRepo) InsertIgnore(scheduleID, itemID, target, status string) (bool, error) {
	return false, nil
}
func (m *mockDeliveryRepo) ExistingPairs(scheduleID string, itemIDs []string) (map[string]bool, error) {
	return nil, nil
}
func (m *mockDeliveryRepo) GetPending(scheduleID, target string) ([]database.Delivery, error) {
	return m.pending[target], nil
}
func (m *mockDeliveryRepo) SentExists(itemID, target string) (bool, error) {
	return m.sentPairs[itemID+"|"+target], nil
}
func (m *mockDeliveryRepo) MarkProcessing(id string, at time.Time) error {
	m.processing = append(m.processing, id)
	return nil
}
func (m *mockDeliveryRepo) MarkSent(id, messageID, snapshot string, at time.Time) error {
	m.sent = append(m.sent, id)
	return nil
}
func (m *mockDeliveryRepo) MarkFailed(id, reason string) error {
	m.failed[id] = reason
	return nil
}
func (m *mockDeliveryRepo) ReclaimStuck(olderThan time.Time) (int64, error) { return 0, nil }
func (m *mockDeliveryRepo) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	return 0, nil
}
func (m *mockDeliveryRepo) CountByStatus(scheduleID string) (map[string]int, error) {
	return m.counts, nil
}

// mockItemRepo implements database.ItemRepository for testing
type mockItemRepo struct {
	items map[string]*database.Item
}

var _ database.ItemRepository = (*mockItemRepo)(nil)

func (m *mockItemRepo) GetItem(id string) (*database.Item, error) { return m.items[id], nil }
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
	return 0, nil
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

// mockTransport records sends and optionally fails
type mockTransport struct {
	sends []string
	err   error
}

var _ Transport = (*mockTransport)(nil)

func (m *mockTransport) Send(ctx context.Context, target, content string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sends = append(m.sends, target)
	return "msg-1", nil
}
func (m *mockTransport) Status() string { return "connected" }

// mockLock implements lock.Lock for testing
type mockLock struct {
	held     bool
	acquires int
}

var _ lock.Lock = (*mockLock)(nil)

func (m *mockLock) Acquire(ctx context.Context, scheduleID string) (bool, error) {
	m.acquires++
	return !m.held, nil
}
func (m *mockLock) Release(ctx context.Context, scheduleID string) error { return nil }

// stubSource implements blackout.PeriodSource for testing
type stubSource struct {
	periods []blackout.Period
}

var _ blackout.PeriodSource = (*stubSource)(nil)

func (s *stubSource) CurrentPeriods(location string, startOffsetMins, endOffsetMins int) ([]blackout.Period, error) {
	return s.periods, nil
}

type workerFixture struct {
	schedules  *mockScheduleRepo
	deliveries *mockDeliveryRepo
	items      *mockItemRepo
	transport  *mockTransport
	lck        *mockLock
	worker     *Worker
}

func newWorkerFixture(schedule *database.Schedule, periods []blackout.Period) *workerFixture {
	f := &workerFixture{
		schedules:  &mockScheduleRepo{schedule: schedule},
		deliveries: newMockDeliveryRepo(),
		items:      &mockItemRepo{items: make(map[string]*database.Item)},
		transport:  &mockTransport{},
		lck:        &mockLock{},
	}

	settings := &mockSettings{ints: map[string]int{
		database.SettingSendDelayMs: 0,
		// A start offset equal to the end offset disables the blackout; stub
		// periods drive the active case directly
		database.SettingBlackoutStartMins: 0,
		database.SettingBlackoutEndMins:   60,
	}}

	gate := blackout.NewGate(&stubSource{periods: periods}, time.Hour, time.Now)
	f.worker = NewWorker(f.schedules, f.deliveries, f.items, settings,
		f.transport, gate, lock.NewManager(f.lck))
	return f
}

func testSchedule() *database.Schedule {
	return &database.Schedule{
		ID:      "sched-1",
		Name:    "digest",
		Targets: []string{"room-a"},
		Enabled: true,
	}
}

func TestRunScheduleSendsPending(t *testing.T) {
	f := newWorkerFixture(testSchedule(), nil)
	f.items.items["item-1"] = &database.Item{ID: "item-1", Title: "First"}
	f.items.items["item-2"] = &database.Item{ID: "item-2", Title: "Second"}
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "item-1", Target: "room-a"},
		{ID: "d-2", ItemID: "item-2", Target: "room-a"},
	}

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if result.Sent != 2 {
		t.Errorf("Expected 2 sent, got %d", result.Sent)
	}
	if len(f.deliveries.sent) != 2 {
		t.Errorf("Expected 2 deliveries marked sent, got %d", len(f.deliveries.sent))
	}
	if len(f.deliveries.processing) != 2 {
		t.Errorf("Expected 2 deliveries marked processing first, got %d", len(f.deliveries.processing))
	}
	if f.schedules.lastRunSets != 1 {
		t.Errorf("Expected last run to be recorded once, got %d", f.schedules.lastRunSets)
	}
}

func TestRunScheduleBlackoutSkip(t *testing.T) {
	now := time.Now()
	periods := []blackout.Period{{
		Start: now.Add(-time.Hour),
		End:   now.Add(time.Hour),
		Type:  "quiet hours",
	}}

	f := newWorkerFixture(testSchedule(), periods)
	f.items.items["item-1"] = &database.Item{ID: "item-1", Title: "First"}
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "item-1", Target: "room-a"},
	}

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if !result.Skipped {
		t.Error("Expected run to be skipped during blackout")
	}
	if result.ResumesAt == nil {
		t.Error("Expected resume time to be reported")
	}
	if len(f.transport.sends) != 0 {
		t.Errorf("Expected no sends during blackout, got %d", len(f.transport.sends))
	}
	if len(f.deliveries.sent) != 0 || len(f.deliveries.failed) != 0 {
		t.Error("Expected obligations to stay pending during blackout")
	}
	if f.schedules.lastRunSets != 0 {
		t.Error("Expected last run untouched for a blackout skip")
	}
}

func TestRunScheduleDisabled(t *testing.T) {
	schedule := testSchedule()
	schedule.Enabled = false
	f := newWorkerFixture(schedule, nil)

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if !result.Skipped {
		t.Error("Expected disabled schedule to be skipped")
	}
	if f.lck.acquires != 0 {
		t.Error("Expected no lock attempt for a disabled schedule")
	}
}

func TestRunScheduleLockedByPeer(t *testing.T) {
	f := newWorkerFixture(testSchedule(), nil)
	f.lck.held = true
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "item-1", Target: "room-a"},
	}

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if !result.Skipped {
		t.Error("Expected run to be skipped when the lock is held elsewhere")
	}
	if result.Reason != "locked by another instance" {
		t.Errorf("Unexpected skip reason: %q", result.Reason)
	}
	if len(f.transport.sends) != 0 {
		t.Error("Expected no sends without the lock")
	}
}

func TestRunScheduleAlreadySentToTarget(t *testing.T) {
	f := newWorkerFixture(testSchedule(), nil)
	f.items.items["item-1"] = &database.Item{ID: "item-1", Title: "First"}
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "item-1", Target: "room-a"},
	}
	f.deliveries.sentPairs["item-1|room-a"] = true

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if result.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", result.Failed)
	}
	if len(f.transport.sends) != 0 {
		t.Error("Expected no transport send for an item already delivered to the target")
	}
	if f.deliveries.failed["d-1"] != "already sent to this target" {
		t.Errorf("Unexpected failure reason: %q", f.deliveries.failed["d-1"])
	}
}

func TestRunScheduleMissingItem(t *testing.T) {
	f := newWorkerFixture(testSchedule(), nil)
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "gone", Target: "room-a"},
	}

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if result.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", result.Failed)
	}
	if f.deliveries.failed["d-1"] != "feed item no longer available" {
		t.Errorf("Unexpected failure reason: %q", f.deliveries.failed["d-1"])
	}
}

func TestRunScheduleTransportError(t *testing.T) {
	f := newWorkerFixture(testSchedule(), nil)
	f.transport.err = errors.New("endpoint unreachable")
	f.items.items["item-1"] = &database.Item{ID: "item-1", Title: "First"}
	f.deliveries.pending["room-a"] = []database.Delivery{
		{ID: "d-1", ItemID: "item-1", Target: "room-a"},
	}

	result, err := f.worker.RunSchedule(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if result.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", result.Failed)
	}
	if result.Sent != 0 {
		t.Errorf("Expected 0 sent, got %d", result.Sent)
	}
	if f.deliveries.failed["d-1"] != "endpoint unreachable" {
		t.Errorf("Unexpected failure reason: %q", f.deliveries.failed["d-1"])
	}
}

func TestDiagnostics(t *testing.T) {
	lastRun := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	schedule := testSchedule()
	schedule.LastRunAt = &lastRun

	f := newWorkerFixture(schedule, nil)
	f.deliveries.counts = map[string]int{"pending": 3, "sent": 10}

	diag, err := f.worker.Diagnostics(context.Background(), "sched-1")
	if err != nil {
		t.Fatal(err)
	}

	if diag.Schedule != "digest" {
		t.Errorf("Expected schedule name 'digest', got %q", diag.Schedule)
	}
	if !diag.Enabled || diag.Targets != 1 {
		t.Error("Expected enabled schedule with one target")
	}
	if diag.Blackout.Active {
		t.Error("Expected no active blackout")
	}
	if diag.TransportStatus != "connected" {
		t.Errorf("Expected transport status 'connected', got %q", diag.TransportStatus)
	}
	if diag.Counts["pending"] != 3 {
		t.Errorf("Expected 3 pending in counts, got %d", diag.Counts["pending"])
	}
	if diag.LastRunAt == nil || !diag.LastRunAt.Equal(lastRun) {
		t.Error("Expected last run time to be reported")
	}
}
