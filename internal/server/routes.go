package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/gorilla/mux"

	"xbot/internal/bot"
	"xbot/internal/storage"
	"xbot/internal/task/engine"
	"xbot/internal/task/scheduler"
	logx "xbot/pkg/logx"
)

// Bot is the part of the orchestrator the HTTP surface drives.
type Bot interface {
	Run(ctx context.Context, job bot.Job) (bot.Outcome, error)
	PostTest(ctx context.Context) (bot.Outcome, string)
	Status() *bot.Status
}

type Quota interface {
	Usage(ctx context.Context) (used, limit int, err error)
}

type Schedules interface {
	Snapshot() scheduler.Snapshot
}

type Engine interface {
	Snapshot() engine.Snapshot
}

type Actions interface {
	RecentActions(ctx context.Context, n int) ([]storage.ActionEntry, error)
}

// Deps are the collaborators behind the routes. Only Bot is required.
type Deps struct {
	Bot       Bot
	Quota     Quota
	Schedules Schedules
	Engine    Engine
	Actions   Actions
	// Health returns the first error of a failed background component, or nil.
	Health  func() error
	Metrics http.Handler
	Version string
}

const recentActions = 20

type handlers struct {
	deps Deps
	log  logx.Logger
}

func newRouter(cfg Config, deps Deps, log logx.Logger) (http.Handler, error) {
	if deps.Bot == nil {
		return nil, errors.New("server: bot is required")
	}
	h := &handlers{deps: deps, log: log}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware(log))

	r.HandleFunc("/", h.root).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	mutating := func(fn http.HandlerFunc) http.Handler {
		return requireToken(cfg.Token, withTimeout(cfg.RequestTimeout, fn))
	}
	r.Handle("/trigger-promotion", mutating(h.triggerPromotion)).Methods(http.MethodPost)
	r.Handle("/test-post", mutating(h.testPost)).Methods(http.MethodPost)
	r.Handle("/trigger/{job}", mutating(h.triggerJob)).Methods(http.MethodPost)

	if cfg.Pprof {
		dbg := r.PathPrefix("/debug/pprof").Subrouter()
		wrap := func(fn http.HandlerFunc) http.Handler { return requireToken(cfg.Token, fn) }
		dbg.Handle("/cmdline", wrap(hpprof.Cmdline))
		dbg.Handle("/profile", wrap(hpprof.Profile))
		dbg.Handle("/symbol", wrap(hpprof.Symbol))
		dbg.Handle("/trace", wrap(hpprof.Trace))
		dbg.PathPrefix("/").Handler(wrap(hpprof.Index))
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "not found"})
	})
	return r, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "X Bot is running"})
}

type quotaView struct {
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
	Error string `json:"error,omitempty"`
}

type statusView struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	bot.Snapshot
	Quota     *quotaView            `json:"quota,omitempty"`
	Schedules *scheduler.Snapshot   `json:"schedules,omitempty"`
	Engine    *engine.Snapshot      `json:"engine,omitempty"`
	Recent    []storage.ActionEntry `json:"recent_actions,omitempty"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	v := statusView{
		Status:   "running",
		Version:  h.deps.Version,
		Snapshot: h.deps.Bot.Status().Snapshot(),
	}
	if h.deps.Quota != nil {
		used, limit, err := h.deps.Quota.Usage(r.Context())
		q := &quotaView{Used: used, Limit: limit}
		if err != nil {
			q.Error = err.Error()
		}
		v.Quota = q
	}
	if h.deps.Schedules != nil {
		s := h.deps.Schedules.Snapshot()
		v.Schedules = &s
	}
	if h.deps.Engine != nil {
		e := h.deps.Engine.Snapshot()
		e.History = nil
		v.Engine = &e
	}
	if h.deps.Actions != nil {
		recent, err := h.deps.Actions.RecentActions(r.Context(), recentActions)
		if err != nil {
			h.log.Warn("read recent actions failed", logx.Err(err))
		}
		v.Recent = recent
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handlers) triggerPromotion(w http.ResponseWriter, r *http.Request) {
	out, _ := h.deps.Bot.Run(r.Context(), bot.JobPromotion)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  string(out),
		"message": "Manual promotion triggered",
	})
}

func (h *handlers) testPost(w http.ResponseWriter, r *http.Request) {
	out, id := h.deps.Bot.PostTest(r.Context())
	resp := map[string]string{"status": string(out)}
	switch out {
	case bot.OutcomeSuccess:
		resp["message"] = "Test post successful! Post ID: " + id
		resp["id"] = id
		resp["url"] = "https://x.com/i/status/" + id
	case bot.OutcomeRateLimited:
		resp["message"] = "Rate limit exceeded, try again later"
	default:
		resp["message"] = "Failed to post test message"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) triggerJob(w http.ResponseWriter, r *http.Request) {
	job, ok := bot.ParseJob(mux.Vars(r)["job"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "unknown job"})
		return
	}
	start := time.Now()
	out, err := h.deps.Bot.Run(r.Context(), job)
	if errors.Is(err, bot.ErrUnknownJob) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job":      string(job),
		"status":   string(out),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
}
