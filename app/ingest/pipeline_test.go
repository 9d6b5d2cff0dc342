package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/feedcourier/feedcourier/app/database"
	"github.com/feedcourier/feedcourier/app/dedup"
	"github.com/feedcourier/feedcourier/app/fetch"
	"github.com/feedcourier/feedcourier/app/normalize"
)

// mockFeedRepo implements database.FeedRepository for testing
type mockFeedRepo struct {
	successCalls int
	failureCalls int
}

var _ database.FeedRepository = (*mockFeedRepo)(nil)

func (m *mockFeedRepo) UpsertFeed(name, url string, refreshInterval, fetchTimeout int, enabled bool) (string, error) {
	return "", nil
}
func (m *mockFeedRepo) GetFeed(name string) (*database.Feed, error)    { return nil, nil }
func (m *mockFeedRepo) GetFeedByID(id string) (*database.Feed, error)  { return nil, nil }
func (m *mockFeedRepo) GetEnabledFeeds() ([]database.Feed, error)      { return nil, nil }
func (m *mockFeedRepo) GetFeedsDueForRefresh(limit int) ([]database.Feed, error) {
	return nil, nil
}
func (m *mockFeedRepo) MarkFetchSuccess(id, etag, lastModified, detectedFormat string, nextFetch time.Time) error {
	m.successCalls++
	return nil
}
func (m *mockFeedRepo) MarkFetchFailure(id, errMsg string, nextFetch time.Time) error {
	m.failureCalls++
	return nil
}
func (m *mockFeedRepo) GetFeedCount() (int, error) { return 0, nil }

// mockItemRepo implements database.ItemRepository for testing
type mockItemRepo struct {
	byGUID    map[string]*database.Item
	byLink    map[string]*database.Item
	recent    []database.Item
	inserted  []database.Item
	updated   []database.Item
	insertErr error
}

var _ database.ItemRepository = (*mockItemRepo)(nil)

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{
		byGUID: make(map[string]*database.Item),
		byLink: make(map[string]*database.Item),
	}
}

func (m *mockItemRepo) GetItem(id string) (*database.Item, error) { return nil, nil }
func (m *mockItemRepo) GetItemByGUID(feedID, guid string) (*database.Item, error) {
	return m.byGUID[guid], nil
}
func (m *mockItemRepo) GetItemByNormalizedLink(feedID, link string) (*database.Item, error) {
	return m.byLink[link], nil
}
func (m *mockItemRepo) GetRecentItems(feedID string, since time.Time) ([]database.Item, error) {
	return m.recent, nil
}
func (m *mockItemRepo) InsertItem(item database.Item) (string, error) {
	if m.insertErr != nil {
		return "", m.insertErr
	}
	m.inserted = append(m.inserted, item)
	return fmt.Sprintf("item-%d", len(m.inserted)), nil
}
func (m *mockItemRepo) UpdateItem(item database.Item) error {
	m.updated = append(m.updated, item)
	return nil
}
func (m *mockItemRepo) GetItemCount(feedID string) (int, error) { return 0, nil }
func (m *mockItemRepo) DeleteUnreferencedBefore(cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockSettings returns the caller-supplied default for every key
type mockSettings struct{}

var _ database.SettingsRepository = (*mockSettings)(nil)

func (m *mockSettings) Get(key, def string) (string, error)              { return def, nil }
func (m *mockSettings) GetInt(key string, def int) (int, error)          { return def, nil }
func (m *mockSettings) GetFloat(key string, def float64) (float64, error) { return def, nil }

func newTestPipeline(items *mockItemRepo) (*Pipeline, *mockFeedRepo) {
	feeds := &mockFeedRepo{}
	engine := dedup.NewEngine(items)
	return NewPipeline(feeds, items, engine, &mockSettings{}), feeds
}

func candidateAt(guid, title, link string, published time.Time) fetch.Candidate {
	return fetch.Candidate{
		GUID:        guid,
		Title:       title,
		Link:        link,
		PublishedAt: &published,
	}
}

func TestRunFirstSuccessProcessesSingleNewestItem(t *testing.T) {
	items := newMockItemRepo()
	pipeline, feeds := newTestPipeline(items)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	var candidates []fetch.Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, candidateAt(
			fmt.Sprintf("guid-%d", i),
			fmt.Sprintf("Wholly distinct headline number %d", i),
			fmt.Sprintf("https://example.com/%d", i),
			base.Add(time.Duration(i)*time.Hour)))
	}

	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600}
	stats, changed := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Inserted != 1 {
		t.Fatalf("Expected 1 insert on first successful run, got %d", stats.Inserted)
	}
	if len(changed) != 1 {
		t.Fatalf("Expected 1 changed item, got %d", len(changed))
	}
	if changed[0].GUID != "guid-4" {
		t.Errorf("Expected the most recent item to be processed, got %s", changed[0].GUID)
	}
	if feeds.successCalls != 1 {
		t.Errorf("Expected success to be recorded once, got %d", feeds.successCalls)
	}
}

func TestRunSubsequentInsertsOldestFirst(t *testing.T) {
	items := newMockItemRepo()
	pipeline, _ := newTestPipeline(items)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	candidates := []fetch.Candidate{
		candidateAt("guid-b", "Completely unrelated second story", "https://example.com/b", base.Add(time.Hour)),
		candidateAt("guid-a", "Original breaking news report", "https://example.com/a", base),
		candidateAt("guid-c", "A third topic nobody saw coming", "https://example.com/c", base.Add(2*time.Hour)),
	}

	lastSuccess := base.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	stats, _ := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Inserted != 3 {
		t.Fatalf("Expected 3 inserts, got %d (errors: %d, duplicates: %d)", stats.Inserted, stats.Errors, stats.Duplicates)
	}

	order := []string{items.inserted[0].GUID, items.inserted[1].GUID, items.inserted[2].GUID}
	expected := []string{"guid-a", "guid-b", "guid-c"}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("Expected insert order %v, got %v", expected, order)
		}
	}
}

func TestRunNotModified(t *testing.T) {
	items := newMockItemRepo()
	pipeline, feeds := newTestPipeline(items)

	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600}
	stats, changed := pipeline.Run(context.Background(), feed, &fetch.Result{NotModified: true})

	if !stats.NotModified {
		t.Error("Expected NotModified flag in stats")
	}
	if stats.Inserted != 0 || len(changed) != 0 {
		t.Error("Expected no items processed for a not-modified poll")
	}
	if feeds.successCalls != 1 {
		t.Errorf("Expected success to be recorded for not-modified poll, got %d", feeds.successCalls)
	}
}

func TestRunUnchangedReappearanceCountsDuplicate(t *testing.T) {
	items := newMockItemRepo()
	pipeline, _ := newTestPipeline(items)

	published := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	stored := database.Item{
		ID:              "item-1",
		FeedID:          "feed-1",
		GUID:            "guid-a",
		Link:            "https://example.com/a",
		NormalizedLink:  normalize.URL("https://example.com/a"),
		Title:           "Original breaking news report",
		NormalizedTitle: normalize.Title("Original breaking news report"),
		PublishedAt:     &published,
		Fingerprint:     normalize.Fingerprint("Original breaking news report", "https://example.com/a"),
	}
	items.byGUID["guid-a"] = &stored

	lastSuccess := published.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	candidates := []fetch.Candidate{
		candidateAt("guid-a", "Original breaking news report", "https://example.com/a", published),
	}

	stats, changed := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", stats.Duplicates)
	}
	if stats.Inserted != 0 || stats.Updated != 0 || len(changed) != 0 {
		t.Error("Expected no inserts or updates for an unchanged reappearance")
	}
}

func TestRunChangedItemUpdated(t *testing.T) {
	items := newMockItemRepo()
	pipeline, _ := newTestPipeline(items)

	published := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	stored := database.Item{
		ID:          "item-1",
		FeedID:      "feed-1",
		GUID:        "guid-a",
		Link:        "https://example.com/a",
		Title:       "Original breaking news report",
		PublishedAt: &published,
		Fingerprint: normalize.Fingerprint("Original breaking news report", "https://example.com/a"),
		CreatedAt:   published,
	}
	items.byGUID["guid-a"] = &stored

	lastSuccess := published.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	candidates := []fetch.Candidate{
		candidateAt("guid-a", "Original breaking news report (corrected)", "https://example.com/a", published),
	}

	stats, changed := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Updated != 1 {
		t.Fatalf("Expected 1 update, got %d", stats.Updated)
	}
	if len(items.updated) != 1 {
		t.Fatalf("Expected UpdateItem to be called once, got %d", len(items.updated))
	}
	if items.updated[0].ID != "item-1" {
		t.Errorf("Expected update to preserve stored ID, got %s", items.updated[0].ID)
	}
	if len(changed) != 1 {
		t.Errorf("Expected changed item to be returned for fan-out, got %d", len(changed))
	}
}

func TestRunDedupSuppressesNearDuplicate(t *testing.T) {
	items := newMockItemRepo()
	pipeline, _ := newTestPipeline(items)

	published := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	items.recent = []database.Item{
		{
			NormalizedTitle: normalize.Title("Major outage hits the region today"),
			NormalizedLink:  normalize.URL("https://other.example.com/outage"),
			Fingerprint:     "unrelated",
		},
	}

	lastSuccess := published.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	candidates := []fetch.Candidate{
		candidateAt("guid-x", "Major outage hits the region todays", "https://example.com/mirror", published),
	}

	stats, _ := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Duplicates != 1 {
		t.Errorf("Expected near-duplicate title to be suppressed, got %d duplicates", stats.Duplicates)
	}
	if stats.Inserted != 0 {
		t.Errorf("Expected no insert for near-duplicate, got %d", stats.Inserted)
	}
}

func TestRunUniqueViolationCountsDuplicate(t *testing.T) {
	items := newMockItemRepo()
	items.insertErr = &pq.Error{Code: "23505"}
	pipeline, _ := newTestPipeline(items)

	published := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	lastSuccess := published.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	candidates := []fetch.Candidate{
		candidateAt("guid-a", "Racing with another instance", "https://example.com/a", published),
	}

	stats, _ := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Duplicates != 1 {
		t.Errorf("Expected concurrent insert conflict to count as duplicate, got %d", stats.Duplicates)
	}
	if stats.Errors != 0 {
		t.Errorf("Expected no errors for a unique violation, got %d", stats.Errors)
	}
}

func TestRunForeignKeyViolationAbortsRun(t *testing.T) {
	items := newMockItemRepo()
	items.insertErr = &pq.Error{Code: "23503"}
	pipeline, _ := newTestPipeline(items)

	published := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	lastSuccess := published.Add(-time.Hour)
	feed := &database.Feed{ID: "feed-1", Name: "test", RefreshInterval: 3600, LastSuccessAt: &lastSuccess}
	candidates := []fetch.Candidate{
		candidateAt("guid-a", "First of several", "https://example.com/a", published),
		candidateAt("guid-b", "Second that never runs", "https://example.com/b", published.Add(time.Hour)),
	}

	stats, _ := pipeline.Run(context.Background(), feed, &fetch.Result{Items: candidates})

	if stats.Inserted != 0 {
		t.Errorf("Expected no inserts after feed disappeared, got %d", stats.Inserted)
	}
	if stats.Duplicates != 0 || stats.Errors != 0 {
		t.Errorf("Expected aborted run to stop counting, got duplicates=%d errors=%d", stats.Duplicates, stats.Errors)
	}
}
