package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// startupSpreadSchedule overrides the first run time of a base schedule.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule returns a schedule firing every d. With maxSpread > 0 the first firing is
// delayed by a random jitter in [0, min(d, maxSpread)).
func intervalSchedule(every time.Duration, now time.Time, maxSpread time.Duration) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := min(every, maxSpread)
	if spread <= 0 {
		return base, 0
	}
	jitter := rand.N(spread)
	return &startupSpreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
