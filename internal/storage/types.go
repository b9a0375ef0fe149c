package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActionEntry records one remote action (post, reply or like).
type ActionEntry struct {
	At       time.Time `json:"at"`
	Job      string    `json:"job"`
	Kind     string    `json:"kind"`
	TargetID string    `json:"target_id,omitempty"`
	ResultID string    `json:"result_id,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
}

// Status maps a job name to the time it last ran.
type Status map[string]time.Time
