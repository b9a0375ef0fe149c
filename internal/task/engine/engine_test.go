package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"xbot/internal/eventbus"
	logx "xbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h := s.Snapshot().History; len(h) >= n {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history did not reach %d items: %+v", n, s.Snapshot().History)
	return nil
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start: got %v, want ErrStopped", err)
	}
}

func TestEnqueueValidates(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{}, nil)
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRunsTaskAndRecordsHistory(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h := waitHistory(t, s, 2)
	if h[0].Name != "ok" || h[0].Error != "" {
		t.Fatalf("first item = %+v", h[0])
	}
	if h[1].Name != "bad" || h[1].Error != "boom" {
		t.Fatalf("second item = %+v", h[1])
	}

	var types []string
	for len(types) < 4 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", types)
		}
	}
	want := []string{EventStarted, EventFinished, EventStarted, EventFailed}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2}, nil)
	st := &RunState{}
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "slow", State: st, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue: got %v, want ErrOverlapSkip", err)
	}
	if !st.Busy() {
		t.Fatal("state should be busy while the task runs")
	}
	close(release)
	waitHistory(t, s, 1)
	if st.Busy() {
		t.Fatal("state should be released after the run")
	}
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1}, nil)
	if err := s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("kaboom") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h := waitHistory(t, s, 2)
	if !strings.HasPrefix(h[0].Error, "panic: kaboom") {
		t.Fatalf("panic not recorded: %+v", h[0])
	}
	if h[1].Error != "" {
		t.Fatalf("worker did not survive the panic: %+v", h[1])
	}
	if s.Snapshot().Panics != 1 {
		t.Fatalf("panics = %d", s.Snapshot().Panics)
	}
}

func TestTimeoutCancelsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	if err := s.Enqueue(Task{Name: "stuck", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h := waitHistory(t, s, 1)
	if !strings.Contains(h[0].Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("error = %q, want deadline exceeded", h[0].Error)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	block := func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	defer close(release)

	if err := s.Enqueue(Task{Name: "a", Overlap: OverlapAllow, Run: block}); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "b", Overlap: OverlapAllow, Run: block}); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}
	if err := s.Enqueue(Task{Name: "c", Overlap: OverlapAllow, Run: block}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue c: got %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("dropped_queue_full = %d", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
	if s.Snapshot().Running {
		t.Fatal("engine should not be running after Stop")
	}
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop: %v", err)
	}
}
