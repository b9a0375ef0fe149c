// Package bot holds the engagement pipeline: the orchestrator operations that combine the
// shared rate gate, the spam filter and the two remote clients, the status record, and the
// job scheduler that fires them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"xbot/internal/eventbus"
	logx "xbot/pkg/logx"
)

const (
	DefaultSearchLimit = 10
	DefaultCallTimeout = 20 * time.Second
)

type Config struct {
	// Query is the scheduled engagement search. Empty selects DefaultQuery.
	Query       string
	SearchLimit int
	// CallTimeout bounds every remote call. Zero selects DefaultCallTimeout.
	CallTimeout time.Duration
	Messages    Messages
}

// Deps are the collaborators of an Orchestrator. Social, Market, Limiter and Spam are required.
type Deps struct {
	Social  Social
	Market  Market
	Limiter Limiter
	Spam    SpamChecker
	Metrics Recorder
	Status  *Status

	// Pick returns an index in [0, n). Defaults to a uniform random source.
	Pick func(n int) int
	Now  func() time.Time
}

// Orchestrator runs the bot operations. Its methods are safe to call concurrently; the
// Limiter is the only serialization point between them.
type Orchestrator struct {
	cfg    Config
	msgs   Messages
	market *template.Template

	social  Social
	mkt     Market
	limiter Limiter
	spam    SpamChecker
	metrics Recorder
	status  *Status
	pick    func(n int) int
	now     func() time.Time

	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, deps Deps, log logx.Logger, bus eventbus.Bus) (*Orchestrator, error) {
	if deps.Social == nil || deps.Market == nil || deps.Limiter == nil || deps.Spam == nil {
		return nil, errors.New("bot: social, market, limiter and spam are required")
	}
	if strings.TrimSpace(cfg.Query) == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	msgs := cfg.Messages.withDefaults()
	tmpl, err := parseMarketTemplate(msgs.MarketUpdate)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		cfg:     cfg,
		msgs:    msgs,
		market:  tmpl,
		social:  deps.Social,
		mkt:     deps.Market,
		limiter: deps.Limiter,
		spam:    deps.Spam,
		metrics: deps.Metrics,
		status:  deps.Status,
		pick:    deps.Pick,
		now:     deps.Now,
		log:     log,
		bus:     bus,
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.status == nil {
		o.status = NewStatus()
	}
	if o.pick == nil {
		o.pick = rand.IntN
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Status returns the status record the orchestrator writes to.
func (o *Orchestrator) Status() *Status { return o.status }

// Query returns the effective scheduled engagement query.
func (o *Orchestrator) Query() string { return o.cfg.Query }

// PostMarketUpdate posts the first trending asset with its spot price. last_market_update is
// written on every call, including when the gate rejects it.
func (o *Orchestrator) PostMarketUpdate(ctx context.Context) (out Outcome) {
	const job = JobMarketUpdate
	started := o.now()
	log := o.log.With(logx.String("action", string(job)))
	defer func() { o.finish(job, started, out, true) }()

	if !o.gate(ctx) {
		log.Info("rate limit exceeded; market update skipped", logx.Bool("rate_limited", true))
		return OutcomeRateLimited
	}

	trending, err := o.trending(ctx)
	if err != nil {
		log.Error("fetch trending failed", logx.Err(err))
		return OutcomeFailed
	}
	if len(trending) == 0 {
		log.Warn("no trending assets available")
		return OutcomeSkipped
	}
	asset := trending[0]
	log = log.With(logx.String("asset", asset))

	price, ok, err := o.price(ctx, asset)
	if err != nil {
		log.Error("fetch price failed", logx.Err(err))
		return OutcomeFailed
	}
	if !ok {
		log.Warn("no price for trending asset")
		return OutcomeSkipped
	}

	text, err := renderMarket(o.market, asset, price)
	if err != nil {
		log.Error("compose market update failed", logx.Err(err))
		return OutcomeFailed
	}
	id, err := o.post(ctx, job, text)
	if err != nil {
		log.Error("post market update failed", logx.String("price", price.String()), logx.Err(err))
		return OutcomeFailed
	}
	log.Info("market update posted", logx.String("price", price.String()), logx.String("post_id", id))
	return OutcomeSuccess
}

// EngageWithTweets searches for query and likes and replies to each non-spam result until the
// gate rejects. Spam items never consume quota. An empty query selects the configured one.
func (o *Orchestrator) EngageWithTweets(ctx context.Context, query string) (out Outcome) {
	const job = JobEngagement
	started := o.now()
	if strings.TrimSpace(query) == "" {
		query = o.cfg.Query
	}
	log := o.log.With(logx.String("action", string(job)))
	defer func() { o.finish(job, started, out, true) }()

	log.Info("engagement started", logx.String("query", query))
	items, err := o.search(ctx, query)
	if err != nil {
		log.Error("search failed", logx.Err(err))
		return OutcomeFailed
	}
	if len(items) == 0 {
		log.Warn("no search results", logx.String("query", query))
		return OutcomeSkipped
	}

	engaged, attempted := 0, 0
	limited := false
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if o.spam.IsSpam(it.Text) {
			log.Info("skipped spam post", logx.String("post_id", it.ID), logx.String("reason", "spam"))
			continue
		}
		if !o.gate(ctx) {
			log.Info("rate limit reached during engagement", logx.Int("engaged", engaged))
			limited = true
			break
		}
		attempted++
		if err := o.like(ctx, job, it.ID); err != nil {
			log.Warn("like failed", logx.String("post_id", it.ID), logx.Err(err))
		}
		replyID, err := o.reply(ctx, job, it.ID, o.msgs.Reply)
		if err != nil {
			log.Warn("reply failed", logx.String("post_id", it.ID), logx.Err(err))
			continue
		}
		engaged++
		log.Info("engaged with post", logx.String("post_id", it.ID), logx.String("reply_id", replyID))
	}
	log.Info("engagement completed", logx.Int("total_engaged", engaged), logx.Int("candidates", len(items)))

	switch {
	case engaged > 0:
		return OutcomeSuccess
	case attempted > 0:
		return OutcomeFailed
	case limited:
		return OutcomeRateLimited
	default:
		return OutcomeSkipped
	}
}

// PromoteCommunity posts one message picked from the promotion rotation. last_promotion is
// written only when the gate admits the call.
func (o *Orchestrator) PromoteCommunity(ctx context.Context) (out Outcome) {
	const job = JobPromotion
	started := o.now()
	log := o.log.With(logx.String("action", string(job)))

	if !o.gate(ctx) {
		log.Info("rate limit exceeded; promotion skipped", logx.Bool("rate_limited", true))
		o.finish(job, started, OutcomeRateLimited, false)
		return OutcomeRateLimited
	}
	defer func() { o.finish(job, started, out, true) }()

	text, ok := o.choose(o.msgs.Promotions)
	if !ok {
		log.Warn("no promotion messages configured")
		return OutcomeSkipped
	}
	id, err := o.post(ctx, job, text)
	if err != nil {
		log.Error("post community promotion failed", logx.Err(err))
		return OutcomeFailed
	}
	log.Info("community promotion posted", logx.String("post_id", id))
	return OutcomeSuccess
}

// PromoteSpecificPost replies to the featured post, falling back to a standalone post when the
// reply fails.
func (o *Orchestrator) PromoteSpecificPost(ctx context.Context) (out Outcome) {
	const job = JobSpecificPromotion
	started := o.now()
	target := o.msgs.SpecificTarget
	log := o.log.With(logx.String("action", string(job)), logx.String("target_id", target))

	if !o.gate(ctx) {
		log.Info("rate limit exceeded; specific promotion skipped", logx.Bool("rate_limited", true))
		o.finish(job, started, OutcomeRateLimited, false)
		return OutcomeRateLimited
	}
	defer func() { o.finish(job, started, out, true) }()

	if text, ok := o.choose(o.msgs.SpecificReplies); ok {
		id, err := o.reply(ctx, job, target, text)
		if err == nil {
			log.Info("specific promotion replied", logx.String("reply_id", id))
			return OutcomeSuccess
		}
		log.Warn("specific promotion reply failed; posting standalone", logx.Err(err))
	}

	id, err := o.post(ctx, job, o.msgs.SpecificFallback)
	if err != nil {
		log.Error("specific promotion failed", logx.Err(err))
		return OutcomeFailed
	}
	log.Info("specific promotion posted standalone", logx.String("post_id", id))
	return OutcomeSuccess
}

// PostTest posts the fixed test message through the gate and returns the new post id on success.
func (o *Orchestrator) PostTest(ctx context.Context) (Outcome, string) {
	const job = JobTestPost
	started := o.now()
	log := o.log.With(logx.String("action", string(job)))
	if !o.gate(ctx) {
		log.Info("rate limit exceeded; test post skipped")
		o.finish(job, started, OutcomeRateLimited, false)
		return OutcomeRateLimited, ""
	}
	id, err := o.post(ctx, job, o.msgs.TestPost)
	if err != nil {
		log.Error("test post failed", logx.Err(err))
		o.finish(job, started, OutcomeFailed, false)
		return OutcomeFailed, ""
	}
	log.Info("test post published", logx.String("post_id", id))
	o.finish(job, started, OutcomeSuccess, false)
	return OutcomeSuccess, id
}

// Run dispatches a scheduled job. The error is non-nil only for unknown jobs and failed runs,
// so the task engine records them; it is never retried.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Outcome, error) {
	var out Outcome
	switch job {
	case JobMarketUpdate:
		out = o.PostMarketUpdate(ctx)
	case JobEngagement:
		out = o.EngageWithTweets(ctx, o.cfg.Query)
	case JobPromotion:
		out = o.PromoteCommunity(ctx)
	case JobSpecificPromotion:
		out = o.PromoteSpecificPost(ctx)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if out == OutcomeFailed {
		return out, fmt.Errorf("%s: %w", job, ErrJobFailed)
	}
	return out, nil
}

func (o *Orchestrator) gate(ctx context.Context) bool {
	if o.limiter.Allow(ctx) {
		return true
	}
	o.metrics.Throttled()
	return false
}

func (o *Orchestrator) choose(msgs []string) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	i := o.pick(len(msgs))
	if i < 0 || i >= len(msgs) {
		i = 0
	}
	return msgs[i], true
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

func (o *Orchestrator) trending(ctx context.Context) ([]string, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.mkt.Trending(cctx)
}

func (o *Orchestrator) price(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.mkt.Price(cctx, asset)
}

func (o *Orchestrator) search(ctx context.Context, query string) ([]Item, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.social.Search(cctx, query, o.cfg.SearchLimit)
}

func (o *Orchestrator) post(ctx context.Context, job Job, text string) (string, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	id, err := o.social.Post(cctx, text)
	if err == nil && id == "" {
		err = ErrNoResult
	}
	o.action(job, "post", "", id, err)
	if err != nil {
		return "", err
	}
	o.metrics.Posted()
	return id, nil
}

func (o *Orchestrator) reply(ctx context.Context, job Job, target, text string) (string, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	id, err := o.social.Reply(cctx, target, text)
	if err == nil && id == "" {
		err = ErrNoResult
	}
	o.action(job, "reply", target, id, err)
	if err != nil {
		return "", err
	}
	o.metrics.Replied()
	return id, nil
}

func (o *Orchestrator) like(ctx context.Context, job Job, target string) error {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	err := o.social.Like(cctx, target)
	o.action(job, "like", target, "", err)
	if err != nil {
		return err
	}
	o.metrics.Liked()
	return nil
}

func (o *Orchestrator) action(job Job, kind, target, result string, err error) {
	if o.bus == nil {
		return
	}
	ev := ActionEvent{Job: job, Kind: kind, TargetID: target, ResultID: result, OK: err == nil, At: o.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.bus.Publish(eventbus.Event{Type: EventAction, Time: ev.At, Data: ev})
}

// finish records the run. mark controls whether the job's status timestamp is written.
func (o *Orchestrator) finish(job Job, started time.Time, out Outcome, mark bool) {
	end := o.now()
	if mark {
		o.status.Mark(job, end)
	}
	o.metrics.JobFinished(string(job), string(out))
	o.log.Debug("job finished", logx.String("job", string(job)), logx.String("outcome", string(out)), logx.Duration("took", end.Sub(started)))
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: EventJob, Time: end, Data: JobEvent{
			Job:      job,
			Outcome:  out,
			Started:  started,
			Duration: end.Sub(started),
			Status:   o.status.Snapshot(),
		}})
	}
}
