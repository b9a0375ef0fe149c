package app

import (
	"fmt"
	"strings"
	"time"

	"xbot/internal/bot"
	"xbot/internal/config"
	"xbot/internal/market/coingecko"
	"xbot/internal/ratelimit"
	"xbot/internal/server"
	"xbot/internal/social/x"
	"xbot/internal/storage"
	"xbot/internal/task/engine"
	"xbot/internal/task/scheduler"
	"xbot/internal/transport/telegram"
	logx "xbot/pkg/logx"
)

const defaultJobTimeout = 2 * time.Minute

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

// mapTelegram reports whether an alert sender should be built.
func mapTelegram(cfg *config.Config) (telegram.Config, bool) {
	tc := cfg.Telegram
	if tc == nil || tc.ChatID == 0 || strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID}, true
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func quotaLimit(cfg *config.Config) int {
	if p := cfg.RateLimit.PerMinute; p != nil {
		return *p
	}
	return ratelimit.DefaultLimit
}

func mapBot(cfg *config.Config) (bot.Config, error) {
	callTimeout, err := config.ParseDurationField("bot.call_timeout", cfg.Bot.CallTimeout)
	if err != nil {
		return bot.Config{}, err
	}
	m := cfg.Bot.Messages
	return bot.Config{
		Query:       cfg.Bot.Query,
		SearchLimit: cfg.Bot.SearchLimit,
		CallTimeout: callTimeout,
		Messages: bot.Messages{
			MarketUpdate:     m.MarketUpdate,
			Reply:            m.Reply,
			Promotions:       m.Promotions,
			SpecificTarget:   m.SpecificTarget,
			SpecificReplies:  m.SpecificReplies,
			SpecificFallback: m.SpecificFallback,
			TestPost:         m.TestPost,
		},
	}, nil
}

func mapSocial(cfg *config.Config) (x.Config, error) {
	timeout, err := config.ParseDurationField("social.timeout", cfg.Social.Timeout)
	if err != nil {
		return x.Config{}, err
	}
	return x.Config{
		BaseURL:     strings.TrimSpace(cfg.Social.BaseURL),
		AccessToken: cfg.Social.AccessToken,
		UserID:      cfg.Social.UserID,
		Timeout:     timeout,
	}, nil
}

func mapMarket(cfg *config.Config) (coingecko.Config, error) {
	mc := cfg.Market
	timeout, err := config.ParseDurationField("market.timeout", mc.Timeout)
	if err != nil {
		return coingecko.Config{}, err
	}
	ttl, err := config.ParseDurationField("market.price_ttl", mc.PriceTTL)
	if err != nil {
		return coingecko.Config{}, err
	}
	return coingecko.Config{
		BaseURL:    strings.TrimSpace(mc.BaseURL),
		APIKey:     mc.APIKey,
		Currency:   mc.Currency,
		Timeout:    timeout,
		RatePerSec: mc.RatePerSec,
		PriceTTL:   ttl,
	}, nil
}

func mapEngine(cfg *config.Config, jobTimeout time.Duration) (engine.Config, error) {
	ec := engine.Config{DefaultTimeout: jobTimeout}
	te := cfg.TaskEngine
	if te == nil {
		return ec, nil
	}
	delay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	ec.Workers = te.Workers
	ec.QueueSize = te.QueueSize
	ec.HistorySize = te.HistorySize
	ec.MaxQueueDelay = delay
	return ec, nil
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	sc := scheduler.Config{Timezone: strings.TrimSpace(cfg.Schedule.Timezone), StartupSpread: scheduler.DefaultStartupSpread}
	if p := cfg.Schedule.StartupSpread; p != nil && !*p {
		sc.StartupSpread = 0
	}
	return sc
}

// mapSchedules overlays configured intervals on the defaults. The specific promotion has
// no default and stays off unless configured.
func mapSchedules(cfg *config.Config) (bot.Schedules, time.Duration, error) {
	sched := bot.DefaultSchedules()
	set := func(job bot.Job, raw string) {
		if v := strings.TrimSpace(raw); v != "" {
			sched[job] = v
		}
	}
	sc := cfg.Schedule
	set(bot.JobMarketUpdate, sc.MarketUpdate)
	set(bot.JobEngagement, sc.Engagement)
	set(bot.JobPromotion, sc.Promotion)
	set(bot.JobSpecificPromotion, sc.SpecificPromotion)

	timeout, err := config.ParseDurationOrDefault("schedule.job_timeout", sc.JobTimeout, defaultJobTimeout)
	if err != nil {
		return nil, 0, err
	}
	return sched, timeout, nil
}

func mapServer(cfg *config.Config) (server.Config, error) {
	sc := cfg.Server
	out := server.Config{
		Addr:          strings.TrimSpace(sc.Addr),
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
	}
	for _, it := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", sc.ReadTimeout, &out.ReadTimeout},
		{"server.write_timeout", sc.WriteTimeout, &out.WriteTimeout},
		{"server.idle_timeout", sc.IdleTimeout, &out.IdleTimeout},
		{"server.request_timeout", sc.RequestTimeout, &out.RequestTimeout},
	} {
		d, err := config.ParseDurationField(it.path, it.raw)
		if err != nil {
			return server.Config{}, fmt.Errorf("app: %w", err)
		}
		*it.dst = d
	}
	return out, nil
}
