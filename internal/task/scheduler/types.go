package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"xbot/internal/eventbus"
	"xbot/internal/task/engine"
	logx "xbot/pkg/logx"
)

// DefaultStartupSpread caps the random delay added to the first firing of interval schedules.
const DefaultStartupSpread = 30 * time.Second

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Kathmandu"; empty means Local
	// StartupSpread caps the random extra delay before the first firing of an interval
	// schedule, so jobs started together do not fire together. 0 disables it.
	StartupSpread time.Duration
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name     string
	spec     string // cron spec or "@every <d>"
	timeout  time.Duration
	job      func(ctx context.Context) error
	entryID  cron.EntryID
	firstGap time.Duration // startup spread applied to the first firing
	state    *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// enqueue warnings are throttled per schedule name
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Running bool          `json:"running"`
}

type Snapshot struct {
	Started   bool           `json:"started"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
