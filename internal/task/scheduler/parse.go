package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Parsed is a schedule string resolved to either a cron expression or a fixed interval.
type Parsed struct {
	Kind  Kind
	Cron  string
	Every time.Duration
}

// ParseSchedule resolves raw, first match wins:
//
//	"cron:<expr>"                     cron expression
//	"every:<d>", "interval:<d>"       interval
//	"@hourly", "@every 15m", "0 * * * *"  cron (leading '@' or any whitespace)
//	"30m", "1h30m"                    interval
func ParseSchedule(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, errors.New("scheduler: empty schedule")
	}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			return cronSchedule(rest)
		case "every", "interval":
			return parseInterval(rest)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return cronSchedule(s)
	}
	return parseInterval(s)
}

func cronSchedule(expr string) (Parsed, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Parsed{}, errors.New("scheduler: empty cron expression")
	}
	return Parsed{Kind: KindCron, Cron: expr}, nil
}

func parseInterval(v string) (Parsed, error) {
	v = strings.TrimSpace(v)
	d, err := time.ParseDuration(v)
	if err != nil {
		return Parsed{}, fmt.Errorf("scheduler: invalid schedule %q (want a cron expression or a duration like 30m)", v)
	}
	if d <= 0 {
		return Parsed{}, fmt.Errorf("scheduler: interval %q must be positive", v)
	}
	return Parsed{Kind: KindInterval, Every: d}, nil
}

// ValidateSchedule parses raw and, for cron expressions, checks the expression itself.
func ValidateSchedule(raw string) error {
	p, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if p.Kind == KindCron {
		if _, err := newParser().Parse(p.Cron); err != nil {
			return fmt.Errorf("scheduler: invalid cron %q: %w", p.Cron, err)
		}
	}
	return nil
}
