package bot

import (
	"sync/atomic"
	"time"
)

// Status holds the "last ran" timestamp of each job. Fields are written independently and
// atomically; there is no cross-field consistency. A timestamp records that a job ran, not
// that it succeeded.
type Status struct {
	marketUpdate      atomic.Int64
	engagement        atomic.Int64
	promotion         atomic.Int64
	specificPromotion atomic.Int64
}

func NewStatus() *Status { return &Status{} }

func (s *Status) field(job Job) *atomic.Int64 {
	switch job {
	case JobMarketUpdate:
		return &s.marketUpdate
	case JobEngagement:
		return &s.engagement
	case JobPromotion:
		return &s.promotion
	case JobSpecificPromotion:
		return &s.specificPromotion
	}
	return nil
}

// Mark records t as the last run of job. Unknown jobs are ignored.
func (s *Status) Mark(job Job, t time.Time) {
	if f := s.field(job); f != nil {
		f.Store(t.UnixNano())
	}
}

// Last returns the last run of job, if any.
func (s *Status) Last(job Job) (time.Time, bool) {
	f := s.field(job)
	if f == nil {
		return time.Time{}, false
	}
	n := f.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}

// Snapshot is the JSON view of Status. Unset timestamps render as null.
type Snapshot struct {
	LastMarketUpdate      *time.Time `json:"last_market_update"`
	LastEngagement        *time.Time `json:"last_engagement"`
	LastPromotion         *time.Time `json:"last_promotion"`
	LastSpecificPromotion *time.Time `json:"last_specific_promotion"`
}

func (s *Status) Snapshot() Snapshot {
	get := func(job Job) *time.Time {
		if t, ok := s.Last(job); ok {
			return &t
		}
		return nil
	}
	return Snapshot{
		LastMarketUpdate:      get(JobMarketUpdate),
		LastEngagement:        get(JobEngagement),
		LastPromotion:         get(JobPromotion),
		LastSpecificPromotion: get(JobSpecificPromotion),
	}
}

// Map returns the set timestamps keyed by job name.
func (s Snapshot) Map() map[string]time.Time {
	out := make(map[string]time.Time, 4)
	put := func(job Job, t *time.Time) {
		if t != nil {
			out[string(job)] = *t
		}
	}
	put(JobMarketUpdate, s.LastMarketUpdate)
	put(JobEngagement, s.LastEngagement)
	put(JobPromotion, s.LastPromotion)
	put(JobSpecificPromotion, s.LastSpecificPromotion)
	return out
}

// Restore loads persisted timestamps. Keys that are not job names are ignored, and a
// persisted value never overwrites a newer in-memory one.
func (s *Status) Restore(m map[string]time.Time) {
	for k, t := range m {
		f := s.field(Job(k))
		if f == nil || t.IsZero() {
			continue
		}
		n := t.UnixNano()
		for {
			cur := f.Load()
			if cur >= n || f.CompareAndSwap(cur, n) {
				break
			}
		}
	}
}
