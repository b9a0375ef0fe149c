package config

import (
	"reflect"
	"strings"

	logx "xbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe structured attrs
// for logging. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 8)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"bot", oldCfg.Bot, newCfg.Bot},
		{"rate_limit", redactRateLimit(oldCfg.RateLimit), redactRateLimit(newCfg.RateLimit)},
		{"spam", oldCfg.Spam, newCfg.Spam},
		{"schedule", oldCfg.Schedule, newCfg.Schedule},
		{"task_engine", oldCfg.TaskEngine, newCfg.TaskEngine},
		{"social", redactSocial(oldCfg.Social), redactSocial(newCfg.Social)},
		{"market", redactMarket(oldCfg.Market), redactMarket(newCfg.Market)},
		{"server", redactServer(oldCfg.Server), redactServer(newCfg.Server)},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"telegram", redactTelegram(oldCfg.Telegram), redactTelegram(newCfg.Telegram)},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed, attrs
}

// RestartRequired filters sections that are only read at start-up.
func RestartRequired(sections []string) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}

// Secrets are compared by presence only.
func secretSet(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}

func redactRateLimit(c RateLimitConfig) RateLimitConfig {
	c.Redis.Password = secretSet(c.Redis.Password)
	return c
}

func redactSocial(c SocialConfig) SocialConfig {
	c.AccessToken = secretSet(c.AccessToken)
	return c
}

func redactMarket(c MarketConfig) MarketConfig {
	c.APIKey = secretSet(c.APIKey)
	return c
}

func redactServer(c ServerConfig) ServerConfig {
	c.Token = secretSet(c.Token)
	return c
}

func redactTelegram(c *TelegramConfig) *TelegramConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Token = secretSet(cp.Token)
	return &cp
}
