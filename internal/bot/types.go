package bot

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoResult is recorded when a remote call succeeds but returns no identifier.
	ErrNoResult = errors.New("bot: remote call returned no result")
	// ErrUnknownJob is returned by Run for a job name it does not know.
	ErrUnknownJob = errors.New("bot: unknown job")
	// ErrJobFailed marks a job run whose outcome was OutcomeFailed.
	ErrJobFailed = errors.New("bot: job failed")
)

// Item is a search result: an opaque identifier and the post body.
type Item struct {
	ID   string
	Text string
}

// Social is the social-platform client. Post and Reply return the new post id.
type Social interface {
	Post(ctx context.Context, text string) (string, error)
	Reply(ctx context.Context, targetID, text string) (string, error)
	Like(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// Market is the market-data client. Price reports ok=false when the asset has no quote.
type Market interface {
	Trending(ctx context.Context) ([]string, error)
	Price(ctx context.Context, assetID string) (price decimal.Decimal, ok bool, err error)
}

// Limiter is the shared request gate. One accepted call consumes one unit of quota.
type Limiter interface {
	Allow(ctx context.Context) bool
}

type SpamChecker interface {
	IsSpam(text string) bool
}

// Recorder receives one call per successful remote action and one per finished job.
type Recorder interface {
	Posted()
	Liked()
	Replied()
	Throttled()
	JobFinished(job, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Posted()                    {}
func (nopRecorder) Liked()                     {}
func (nopRecorder) Replied()                   {}
func (nopRecorder) Throttled()                 {}
func (nopRecorder) JobFinished(string, string) {}

// Outcome summarizes one orchestrator call. Orchestrator methods never return errors.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// Job names a recurring orchestrator operation.
type Job string

const (
	JobMarketUpdate      Job = "market_update"
	JobEngagement        Job = "engagement"
	JobPromotion         Job = "promotion"
	JobSpecificPromotion Job = "specific_promotion"
	// JobTestPost is only triggered manually.
	JobTestPost Job = "test_post"
)

// Jobs lists the schedulable jobs in registration order.
var Jobs = []Job{JobMarketUpdate, JobEngagement, JobPromotion, JobSpecificPromotion}

func ParseJob(s string) (Job, bool) {
	for _, j := range Jobs {
		if string(j) == s {
			return j, true
		}
	}
	return "", false
}

// Event types published on the bus.
const (
	EventAction = "bot.action"
	EventJob    = "bot.job"
)

// ActionEvent describes one remote call issued by a job.
type ActionEvent struct {
	Job      Job       `json:"job"`
	Kind     string    `json:"kind"` // post | reply | like
	TargetID string    `json:"target_id,omitempty"`
	ResultID string    `json:"result_id,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// JobEvent is published when an orchestrator operation returns.
type JobEvent struct {
	Job      Job           `json:"job"`
	Outcome  Outcome       `json:"outcome"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	// Status is the status snapshot taken after the run.
	Status Snapshot `json:"status"`
}
