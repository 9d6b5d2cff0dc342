package database

import (
	"time"
)

// Delivery statuses
const (
	StatusAwaitingApproval = "awaiting_approval"
	StatusPending          = "pending"
	StatusProcessing       = "processing"
	StatusSent             = "sent"
	StatusFailed           = "failed"
)

// Schedule modes
const (
	ModeImmediate  = "immediate"
	ModeInterval   = "interval"
	ModeFixedTimes = "fixed_times"
)

type Feed struct {
	ID              string // Database UUID
	Name            string // Configuration feed identifier derived from filename
	URL             string
	DetectedFormat  string // rss, atom, json as reported by the parser
	Enabled         bool
	RefreshInterval int    // seconds
	FetchTimeout    int    // seconds
	Etag            string // conditional fetch validators
	LastModified    string
	LastFetchedAt   *time.Time
	LastSuccessAt   *time.Time
	NextFetchAt     *time.Time
	FailureCount    int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Item struct {
	ID              string
	FeedID          string
	GUID            string
	Link            string
	NormalizedLink  string
	Title           string
	NormalizedTitle string
	Description     string
	Content         string
	Author          string
	ImageURL        string
	PublishedAt     *time.Time
	Categories      []string
	Fingerprint     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Schedule struct {
	ID              string
	FeedID          string
	Name            string
	Mode            string   // immediate, interval, fixed_times
	IntervalMinutes int
	FixedTimes      []string // "HH:MM" in local time, fixed_times mode only
	Targets         []string
	Enabled         bool
	RequireApproval bool
	LastRunAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Delivery struct {
	ID                  string
	ScheduleID          string
	ItemID              string
	Target              string
	Status              string
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	DeliveredAt         *time.Time
	ReadAt              *time.Time
	ContentSnapshot     string
	Error               string
	TransportMessageID  string
}
