package blackout

import (
	"fmt"
	"time"
)

var _ PeriodSource = (*DailySource)(nil)

// DailySource produces one recurring quiet window per day in the configured
// location, bounded by two minutes-from-midnight offsets. A window whose end
// offset is not after its start spans midnight into the next day.
type DailySource struct {
	now func() time.Time
}

func NewDailySource(now func() time.Time) *DailySource {
	if now == nil {
		now = time.Now
	}
	return &DailySource{now: now}
}

func (s *DailySource) CurrentPeriods(location string, startOffsetMins, endOffsetMins int) ([]Period, error) {
	if startOffsetMins == endOffsetMins {
		return nil, nil
	}

	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("failed to load blackout location: %w", err)
	}

	base := s.now().In(loc)

	// Yesterday through tomorrow covers every window that could contain or
	// follow the current instant, including overnight spans
	periods := make([]Period, 0, 3)
	for dayOffset := -1; dayOffset <= 1; dayOffset++ {
		day := base.AddDate(0, 0, dayOffset)
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

		start := midnight.Add(time.Duration(startOffsetMins) * time.Minute)
		end := midnight.Add(time.Duration(endOffsetMins) * time.Minute)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}

		periods = append(periods, Period{
			Start: start,
			End:   end,
			Type:  "quiet hours",
		})
	}

	return periods, nil
}
