package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbot/internal/task/engine"
	"xbot/internal/task/scheduler"
)

type fakeTrigger struct {
	mu      sync.Mutex
	jobs    map[string]func(ctx context.Context) error
	specs   map[string]string
	started bool
	failOn  string
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{jobs: map[string]func(context.Context) error{}, specs: map[string]string{}}
}

func (f *fakeTrigger) AddSchedule(name, spec string, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if spec == f.failOn {
		return "", errors.New("bad spec")
	}
	f.jobs[name] = job
	f.specs[name] = spec
	return name, nil
}

func (f *fakeTrigger) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.specs, name)
	return ok
}

func (f *fakeTrigger) Start(context.Context) { f.mu.Lock(); f.started = true; f.mu.Unlock() }
func (f *fakeTrigger) Stop(context.Context)  { f.mu.Lock(); f.started = false; f.mu.Unlock() }

// fireAll invokes every registered job once, as a trigger firing would.
func (f *fakeTrigger) fireAll(ctx context.Context) int {
	f.mu.Lock()
	jobs := make([]func(context.Context) error, 0, len(f.jobs))
	for _, j := range f.jobs {
		jobs = append(jobs, j)
	}
	started := f.started
	f.mu.Unlock()
	if !started {
		return 0
	}
	for _, j := range jobs {
		_ = j(ctx)
	}
	return len(jobs)
}

type countingRunner struct {
	mu   sync.Mutex
	runs map[Job]int
}

func (r *countingRunner) Run(_ context.Context, job Job) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[Job]int{}
	}
	r.runs[job]++
	return OutcomeSuccess, nil
}

func (r *countingRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.runs {
		n += v
	}
	return n
}

func TestJobSchedulerLifecycle(t *testing.T) {
	trig := newFakeTrigger()
	run := &countingRunner{}
	js := NewJobScheduler(trig, run, DefaultSchedules(), time.Minute, nopLog())

	require.False(t, js.Running())
	require.NoError(t, js.Start(context.Background()))
	require.True(t, js.Running())
	require.NoError(t, js.Start(context.Background()), "Start on a running scheduler is a no-op")

	assert.Equal(t, map[string]string{
		ScheduleName(JobMarketUpdate): "30m",
		ScheduleName(JobEngagement):   "15m",
		ScheduleName(JobPromotion):    "60m",
	}, trig.specs, "specific promotion stays off without a schedule")
	assert.Equal(t, []Job{JobMarketUpdate, JobEngagement, JobPromotion}, js.Enabled())

	assert.Equal(t, 3, trig.fireAll(context.Background()))
	assert.Equal(t, 3, run.total())

	js.Stop(context.Background())
	assert.False(t, js.Running())
	assert.Empty(t, trig.jobs)
	assert.Zero(t, trig.fireAll(context.Background()), "no firing after Stop")
	assert.Equal(t, 3, run.total())
}

func TestJobSchedulerFourthJob(t *testing.T) {
	trig := newFakeTrigger()
	sched := DefaultSchedules()
	sched[JobSpecificPromotion] = "2h"
	js := NewJobScheduler(trig, &countingRunner{}, sched, time.Minute, nopLog())

	require.NoError(t, js.Start(context.Background()))
	assert.Len(t, trig.jobs, 4)
}

func TestJobSchedulerRollsBackOnError(t *testing.T) {
	trig := newFakeTrigger()
	trig.failOn = "60m"
	js := NewJobScheduler(trig, &countingRunner{}, DefaultSchedules(), time.Minute, nopLog())

	err := js.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(JobPromotion))
	assert.Empty(t, trig.jobs)
	assert.False(t, js.Running())
	assert.False(t, trig.started)
}

func TestJobSchedulerWithRealEngine(t *testing.T) {
	eng := engine.New(engine.Config{Workers: 4}, nopLog(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())
	trig := scheduler.New(scheduler.Config{}, eng, nopLog(), nil)

	var runs atomic.Int32
	h := newHarness(t, 100)
	runner := runnerFunc(func(ctx context.Context, job Job) (Outcome, error) {
		runs.Add(1)
		return h.orch.Run(ctx, job)
	})
	js := NewJobScheduler(trig, runner, Schedules{
		JobPromotion:  "1s",
		JobEngagement: "1s",
	}, 5*time.Second, nopLog())

	require.NoError(t, js.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	js.Stop(context.Background())
	time.Sleep(100 * time.Millisecond)
	after := runs.Load()
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no job fires after Stop")

	_, ok := h.orch.Status().Last(JobPromotion)
	assert.True(t, ok)
}

type runnerFunc func(ctx context.Context, job Job) (Outcome, error)

func (f runnerFunc) Run(ctx context.Context, job Job) (Outcome, error) { return f(ctx, job) }
