package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"xbot/internal/bot"
	"xbot/internal/config"
	"xbot/internal/eventbus"
	"xbot/internal/market/coingecko"
	"xbot/internal/metrics"
	"xbot/internal/ratelimit"
	"xbot/internal/remote"
	rtsup "xbot/internal/runtime/supervisor"
	"xbot/internal/server"
	"xbot/internal/social/x"
	"xbot/internal/spam"
	"xbot/internal/storage"
	"xbot/internal/task/engine"
	"xbot/internal/task/scheduler"
	"xbot/internal/transport/telegram"
	logx "xbot/pkg/logx"
)

// quota is the shared request gate as seen by the bot and the status surface.
type quota interface {
	Allow(ctx context.Context) bool
	Usage(ctx context.Context) (used, limit int, err error)
}

type Option func(*options)

type options struct {
	lookupEnv func(string) (string, bool)
	version   string
}

// WithLookupEnv replaces os.LookupEnv for secret overrides.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = fn }
}

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	alerts bool
	bus    eventbus.Bus
	store  storage.Store
	rdb    *redis.Client

	limiter quota
	metrics *metrics.Recorder
	orch    *bot.Orchestrator

	engine *engine.Service
	sched  *scheduler.Service
	jobs   *bot.JobScheduler
	srv    *server.Service
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{lookupEnv: os.LookupEnv, version: "dev"}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetLookupEnv(o.lookupEnv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Logging first, with the alert sink when Telegram is configured.
	var sender logx.Sender
	tcfg, haveTelegram := mapTelegram(cfg)
	if haveTelegram {
		s, err := telegram.New(tcfg, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender = s
	} else if cfg.Logging.Alert.Enabled {
		return nil, errors.New("app: logging.alert.enabled requires telegram.token and telegram.chat_id")
	}
	logSvc, log := logx.New(mapLogging(cfg), sender)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		log:    log,
		logs:   logSvc,
		alerts: haveTelegram,
		bus:    eventbus.New(),
	}
	if err := a.build(cfg, o.version); err != nil {
		a.closeResources()
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, version string) error {
	log := a.log

	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return err
	}
	a.store = store

	limit := quotaLimit(cfg)
	switch strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)) {
	case "redis":
		rc := cfg.RateLimit.Redis
		a.rdb = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		a.limiter = ratelimit.NewRedisWindow(a.rdb, limit, ratelimit.RedisOptions{Key: rc.Key},
			log.With(logx.String("comp", "ratelimit")))
	default:
		a.limiter = ratelimit.NewWindow(limit)
	}

	a.metrics = metrics.New(true)

	xcfg, err := mapSocial(cfg)
	if err != nil {
		return err
	}
	xlog := log.With(logx.String("comp", "x"))
	xcfg.Breaker = remote.NewBreaker("x", remote.BreakerConfig{}, xlog)
	xc, err := x.New(xcfg, xlog)
	if err != nil {
		return err
	}

	mcfg, err := mapMarket(cfg)
	if err != nil {
		return err
	}
	mlog := log.With(logx.String("comp", "coingecko"))
	mcfg.Breaker = remote.NewBreaker("coingecko", remote.BreakerConfig{}, mlog)
	cg, err := coingecko.New(mcfg, mlog)
	if err != nil {
		return err
	}

	bcfg, err := mapBot(cfg)
	if err != nil {
		return err
	}
	status := bot.NewStatus()
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := a.store.LoadStatus(ctx)
		cancel()
		if err != nil {
			log.Warn("status restore failed", logx.Err(err))
		} else if len(st) > 0 {
			status.Restore(st)
			log.Info("status restored", logx.Int("jobs", len(st)))
		}
	}
	orch, err := bot.New(bcfg, bot.Deps{
		Social:  socialAdapter{c: xc},
		Market:  cg,
		Limiter: a.limiter,
		Spam:    spam.New(cfg.Spam.Keywords, cfg.Spam.Threshold),
		Metrics: a.metrics,
		Status:  status,
	}, log.With(logx.String("comp", "bot")), a.bus)
	if err != nil {
		return err
	}
	a.orch = orch

	schedules, jobTimeout, err := mapSchedules(cfg)
	if err != nil {
		return err
	}
	ecfg, err := mapEngine(cfg, jobTimeout)
	if err != nil {
		return err
	}
	a.engine = engine.New(ecfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapScheduler(cfg), a.engine, log.With(logx.String("comp", "scheduler")), a.bus)
	a.jobs = bot.NewJobScheduler(a.sched, orch, schedules, jobTimeout, log.With(logx.String("comp", "jobs")))

	if cfg.Server.Enabled {
		srvCfg, err := mapServer(cfg)
		if err != nil {
			return err
		}
		srv, err := server.New(srvCfg, server.Deps{
			Bot:       orch,
			Quota:     a.limiter,
			Schedules: a.sched,
			Engine:    a.engine,
			Actions:   a.store,
			Health:    a.health,
			Metrics:   a.metrics.Handler(),
			Version:   version,
		}, log.With(logx.String("comp", "http")))
		if err != nil {
			return err
		}
		a.srv = srv
	}
	return nil
}

// health reports the first error of the app or engine supervisors.
func (a *App) health() error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	if sup := a.engine.Supervisor(); sup != nil {
		if err := sup.Err(); err != nil {
			return fmt.Errorf("taskengine: %w", err)
		}
	}
	return nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Bot exposes the orchestrator for one-shot CLI runs.
func (a *App) Bot() *bot.Orchestrator { return a.orch }

// Addr is the bound status server address, or "" when the server is disabled or not started.
func (a *App) Addr() string {
	if a.srv == nil {
		return ""
	}
	return a.srv.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Logging.Alert.Enabled && !a.alerts {
			return errors.New("logging.alert needs telegram configured at start-up")
		}
		return nil
	})

	if a.rdb != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.rdb.Ping(pctx).Err(); err != nil {
			// the window fails closed until Redis answers
			a.log.Warn("redis unreachable", logx.String("addr", a.rdb.Options().Addr), logx.Err(err))
		}
		cancel()
	}

	if a.store != nil {
		a.startRecorder()
	}

	a.engine.Start(a.sup.Context())
	if a.cfg.Schedule.Enabled {
		if err := a.jobs.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduling disabled; jobs run only on manual trigger")
	}
	if a.srv != nil {
		a.srv.Start(a.sup.Context())
		a.log.Info("status server listening", logx.String("addr", a.srv.Addr()))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Strings("jobs", jobNames(a.jobs)))
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogging(next))
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rr))
	}
}

// startRecorder persists remote actions and job status from the event bus.
func (a *App) startRecorder() {
	events, unsub := a.bus.Subscribe(256, bot.EventAction, bot.EventJob)
	a.sup.Go0("storage.recorder", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				// flush what is already buffered
				for {
					select {
					case e := <-events:
						a.record(c, e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				a.record(c, e)
			}
		}
	})
}

func (a *App) record(c context.Context, e eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c), 2*time.Second)
	defer cancel()
	switch ev := e.Data.(type) {
	case bot.ActionEvent:
		if err := a.store.AppendAction(ctx, actionEntry(ev)); err != nil {
			a.log.Warn("action not persisted", logx.String("job", string(ev.Job)), logx.Err(err))
		}
	case bot.JobEvent:
		if err := a.store.SaveStatus(ctx, ev.Status.Map()); err != nil {
			a.log.Warn("status not persisted", logx.String("job", string(ev.Job)), logx.Err(err))
		}
	}
}

// RunOnce runs one job without starting the app and persists its events before returning.
// For JobTestPost the new post id is returned as well.
func (a *App) RunOnce(ctx context.Context, job bot.Job) (bot.Outcome, string, error) {
	var events <-chan eventbus.Event
	if a.store != nil {
		ch, unsub := a.bus.Subscribe(256, bot.EventAction, bot.EventJob)
		defer unsub()
		events = ch
	}

	var (
		out bot.Outcome
		id  string
		err error
	)
	if job == bot.JobTestPost {
		out, id = a.orch.PostTest(ctx)
	} else {
		out, err = a.orch.Run(ctx, job)
	}

	// publishing is synchronous, so every event of the run is already buffered
	for drained := events == nil; !drained; {
		select {
		case e := <-events:
			a.record(ctx, e)
		default:
			drained = true
		}
	}
	return out, id, err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		if a.logs != nil {
			a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Triggers go first so no new run starts while the engine drains.
	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error {
		if a.srv != nil {
			a.srv.Stop(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("resources", 1*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}

func jobNames(js *bot.JobScheduler) []string {
	if !js.Running() {
		return nil
	}
	out := make([]string, 0, 4)
	for _, j := range js.Enabled() {
		out = append(out, string(j))
	}
	return out
}
