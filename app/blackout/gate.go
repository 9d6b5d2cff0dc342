package blackout

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultCacheTTL = 6 * time.Hour

// Period is one blackout interval reported by the external time source
type Period struct {
	Start time.Time
	End   time.Time
	Type  string
}

// PeriodSource computes upcoming blackout intervals for a location and a pair
// of offset parameters. Treated as opaque and potentially expensive.
type PeriodSource interface {
	CurrentPeriods(location string, startOffsetMins, endOffsetMins int) ([]Period, error)
}

// Config is the tuple that keys the gate's cache
type Config struct {
	Location        string
	StartOffsetMins int
	EndOffsetMins   int
}

// Status answers whether delivery is currently suspended and until when
type Status struct {
	Active    bool       `json:"active"`
	Reason    string     `json:"reason,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	NextStart *time.Time `json:"next_start,omitempty"`
}

// Gate caches the period source's answer for a TTL so delivery ticks do not
// hammer it. Constructed once per process with an injected clock and passed
// by reference; never a package-level singleton.
type Gate struct {
	source PeriodSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cachedKey string
	periods   []Period
	fetchedAt time.Time
}

func NewGate(source PeriodSource, ttl time.Duration, now func() time.Time) *Gate {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		source: source,
		ttl:    ttl,
		now:    now,
	}
}

// Current reports the blackout state for the given configuration. A period
// source failure is treated as "not in blackout" and logged: a broken time
// source must not suspend delivery indefinitely.
func (g *Gate) Current(cfg Config) Status {
	now := g.now()
	periods := g.cachedPeriods(cfg, now)

	status := Status{}
	for _, p := range periods {
		if !now.Before(p.Start) && now.Before(p.End) {
			end := p.End
			status.Active = true
			status.Reason = p.Type
			status.EndsAt = &end
			return status
		}

		if p.Start.After(now) {
			start := p.Start
			if status.NextStart == nil || start.Before(*status.NextStart) {
				status.NextStart = &start
			}
		}
	}

	return status
}

func (g *Gate) cachedPeriods(cfg Config, now time.Time) []Period {
	key := fmt.Sprintf("%s|%d|%d", cfg.Location, cfg.StartOffsetMins, cfg.EndOffsetMins)

	g.mu.Lock()
	defer g.mu.Unlock()

	if key == g.cachedKey && now.Sub(g.fetchedAt) < g.ttl {
		return g.periods
	}

	periods, err := g.source.CurrentPeriods(cfg.Location, cfg.StartOffsetMins, cfg.EndOffsetMins)
	if err != nil {
		slog.Warn("Blackout period source failed, assuming no blackout", "location", cfg.Location, "error", err)
		return nil
	}

	g.cachedKey = key
	g.periods = periods
	g.fetchedAt = now

	return periods
}
