package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "xbot/pkg/logx"
)

// Trigger registers named recurring schedules. internal/task/scheduler implements it.
type Trigger interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

// Runner executes one job run.
type Runner interface {
	Run(ctx context.Context, job Job) (Outcome, error)
}

// Schedules maps each job to its schedule string. An empty schedule leaves the job unregistered.
type Schedules map[Job]string

// DefaultSchedules are the intervals used when none are configured. The specific promotion
// is off by default.
func DefaultSchedules() Schedules {
	return Schedules{
		JobMarketUpdate: "30m",
		JobEngagement:   "15m",
		JobPromotion:    "60m",
	}
}

// JobScheduler drives the recurring jobs: stopped -> running -> stopped. Jobs fire
// independently; a job whose previous run is still in flight skips that firing.
type JobScheduler struct {
	mu      sync.Mutex
	running bool
	names   []string

	trig    Trigger
	run     Runner
	sched   Schedules
	timeout time.Duration
	log     logx.Logger
}

func NewJobScheduler(trig Trigger, run Runner, sched Schedules, jobTimeout time.Duration, log logx.Logger) *JobScheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &JobScheduler{trig: trig, run: run, sched: sched, timeout: jobTimeout, log: log}
}

// ScheduleName is the trigger name a job is registered under.
func ScheduleName(job Job) string { return "bot." + string(job) }

// Start registers every job with a schedule and starts firing. Calling Start on a running
// scheduler is a no-op. If any registration fails, the ones already made are removed.
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.trig == nil || s.run == nil {
		return errors.New("bot: job scheduler needs a trigger and a runner")
	}

	names := make([]string, 0, len(Jobs))
	for _, job := range Jobs {
		spec := strings.TrimSpace(s.sched[job])
		if spec == "" {
			s.log.Debug("job disabled", logx.String("job", string(job)))
			continue
		}
		job := job
		name, err := s.trig.AddSchedule(ScheduleName(job), spec, s.timeout, func(ctx context.Context) error {
			_, err := s.run.Run(ctx, job)
			return err
		})
		if err != nil {
			for _, n := range names {
				s.trig.Remove(n)
			}
			return fmt.Errorf("bot: schedule %s (%q): %w", job, spec, err)
		}
		names = append(names, name)
		s.log.Info("job scheduled", logx.String("job", string(job)), logx.String("every", spec))
	}
	s.trig.Start(ctx)
	s.names = names
	s.running = true
	return nil
}

// Stop removes every trigger and stops the trigger service, so no new run starts after it
// returns. Runs already in flight are not aborted here.
func (s *JobScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for _, n := range s.names {
		s.trig.Remove(n)
	}
	s.trig.Stop(ctx)
	s.names = nil
	s.running = false
	s.log.Info("jobs stopped")
}

func (s *JobScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Enabled returns the jobs that have a schedule, in registration order.
func (s *JobScheduler) Enabled() []Job {
	out := make([]Job, 0, len(Jobs))
	for _, job := range Jobs {
		if strings.TrimSpace(s.sched[job]) != "" {
			out = append(out, job)
		}
	}
	return out
}
