// Package ratelimit implements the shared request quota: a sliding window of accepted
// request timestamps. It is a gate, not a queue; rejected calls are dropped.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the rolling interval over which accepted requests are counted.
const DefaultWindow = time.Minute

// DefaultLimit is the number of requests accepted per window when none is configured.
const DefaultLimit = 10

// Window is an in-process sliding-window gate. The zero value is not usable; use NewWindow.
type Window struct {
	mu    sync.Mutex
	limit int
	size  time.Duration
	now   func() time.Time

	// hits holds acceptance times in insertion order.
	hits []time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now. Tests use it to drive the window deterministically.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSize overrides the window length (default one minute).
func WithSize(d time.Duration) Option {
	return func(w *Window) {
		if d > 0 {
			w.size = d
		}
	}
}

// NewWindow returns a gate accepting at most limit requests per window.
// A limit of 0 or less rejects every request.
func NewWindow(limit int, opts ...Option) *Window {
	w := &Window{limit: limit, size: DefaultWindow, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Allow reports whether a request may proceed now and, if so, records it. The clock is
// read under the lock so entries stay in acceptance order.
func (w *Window) Allow(_ context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.allowLocked(w.now())
}

// AllowAt is Allow evaluated at an explicit instant.
func (w *Window) AllowAt(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.allowLocked(now)
}

func (w *Window) allowLocked(now time.Time) bool {
	w.evictLocked(now)
	if w.limit <= 0 || len(w.hits) >= w.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// evictLocked trims expired entries from the head. Entries are appended in order, so
// eviction stops at the first live entry. A negative elapsed time (clock moved backwards)
// counts as not expired.
func (w *Window) evictLocked(now time.Time) {
	n := 0
	for n < len(w.hits) && now.Sub(w.hits[n]) > w.size {
		n++
	}
	if n == 0 {
		return
	}
	rest := copy(w.hits, w.hits[n:])
	clear(w.hits[rest:])
	w.hits = w.hits[:rest]
}

// Usage returns the number of live entries and the configured limit. It evicts but never records.
func (w *Window) Usage(_ context.Context) (used, limit int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(w.now())
	return len(w.hits), w.limit, nil
}
