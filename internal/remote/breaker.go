package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	logx "xbot/pkg/logx"
)

// ErrCircuitOpen is returned without calling the service while the breaker is open.
var ErrCircuitOpen = errors.New("remote: circuit open")

type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker (default 3).
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker stays open before a half-open trial call (default 60s).
	OpenFor time.Duration
	// Interval clears the closed-state counts (default 60s).
	Interval time.Duration
}

// Breaker trips after consecutive transport failures, 5xx or 429 responses. Other 4xx
// responses and canceled calls count as successes.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(name string, cfg BreakerConfig, log logx.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 60 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st := gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do runs op through the breaker.
func (b *Breaker) Do(op func() error) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, op() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	return err
}

// State is "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }
