package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"xbot/internal/task/engine"
	logx "xbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// AddSchedule parses schedule and registers a cron or interval trigger under name, replacing
// any schedule with the same name. It returns the name.
//
// See ParseSchedule for the accepted formats.
//
// Firings skip while the previous run of the same schedule is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case KindCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return "", fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
		return s.add(name, ps.Cron, timeout, job)
	case KindInterval:
		return s.add(name, "@every "+ps.Every.String(), timeout, job)
	default:
		return "", errors.New("unsupported schedule kind")
	}
}

func (s *Service) add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		// registered with cron on Start
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return "", err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout), logx.Duration("first_gap", d.firstGap))
	return name, nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeLocked drops every def named name and unregisters it from cron. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, run, state := d.name, d.timeout, d.job, d.state
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     run,
			Overlap: engine.OverlapSkipIfRunning,
			State:   state,
		})
		s.reportEnqueueError(name, err)
	})

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, gap := intervalSchedule(dur, time.Now().In(s.loc), s.cfg.StartupSpread)
			d.firstGap = gap
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.firstGap = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// overlap skips are normal when a run outlasts its interval
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
