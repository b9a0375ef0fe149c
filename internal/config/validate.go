package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"xbot/internal/task/scheduler"
	logx "xbot/pkg/logx"
)

// Validate rejects configs that cannot be mapped onto the runtime. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Alert.MinLevel) {
		add(fmt.Errorf("logging.alert.min_level: unknown level %q", cfg.Logging.Alert.MinLevel))
	}
	if cfg.Logging.Alert.Enabled && (cfg.Telegram == nil || cfg.Telegram.ChatID == 0) {
		add(errors.New("logging.alert.enabled requires telegram.chat_id"))
	}

	if cfg.Bot.SearchLimit < 0 {
		add(errors.New("bot.search_limit must be >= 0"))
	}
	dur("bot.call_timeout", cfg.Bot.CallTimeout)

	if p := cfg.RateLimit.PerMinute; p != nil && *p < 0 {
		add(errors.New("rate_limit.per_minute must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.RateLimit.Redis.Addr) == "" {
			add(errors.New("rate_limit.redis.addr is required when rate_limit.backend=redis"))
		}
	default:
		add(fmt.Errorf("rate_limit.backend: unknown backend %q", cfg.RateLimit.Backend))
	}

	if cfg.Spam.Threshold < 0 {
		add(errors.New("spam.threshold must be >= 1"))
	}

	sch := cfg.Schedule
	for _, it := range []struct{ path, raw string }{
		{"schedule.market_update", sch.MarketUpdate},
		{"schedule.engagement", sch.Engagement},
		{"schedule.promotion", sch.Promotion},
		{"schedule.specific_promotion", sch.SpecificPromotion},
	} {
		if strings.TrimSpace(it.raw) == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(it.raw); err != nil {
			add(fmt.Errorf("%s: %w", it.path, err))
		}
	}
	dur("schedule.job_timeout", sch.JobTimeout)
	if tz := strings.TrimSpace(sch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err))
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			add(errors.New("task_engine.workers must be >= 0"))
		}
		if te.QueueSize < 0 {
			add(errors.New("task_engine.queue_size must be >= 0"))
		}
		if te.HistorySize < 0 {
			add(errors.New("task_engine.history_size must be >= 0"))
		}
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}

	add(validURL("social.base_url", cfg.Social.BaseURL))
	dur("social.timeout", cfg.Social.Timeout)
	add(validURL("market.base_url", cfg.Market.BaseURL))
	dur("market.timeout", cfg.Market.Timeout)
	dur("market.price_ttl", cfg.Market.PriceTTL)
	if cfg.Market.RatePerSec < 0 {
		add(errors.New("market.rate_per_sec must be >= 0"))
	}

	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)
	dur("server.idle_timeout", cfg.Server.IdleTimeout)
	dur("server.request_timeout", cfg.Server.RequestTimeout)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	return errors.Join(errs...)
}

func validURL(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https", path)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host is required", path)
	}
	return nil
}
