package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values. Secrets should live here (or in a .env
// file) rather than in the config file.
const (
	EnvXAccessToken     = "X_ACCESS_TOKEN"
	EnvXUserID          = "X_USER_ID"
	EnvCoinGeckoAPIKey  = "COINGECKO_API_KEY"
	EnvTelegramToken    = "TELEGRAM_TOKEN"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvServerToken      = "SERVER_TOKEN"
	EnvLogLevel         = "LOG_LEVEL"
	EnvRateLimitPerMin  = "RATE_LIMIT_PER_MINUTE"
	EnvSpamThreshold    = "SPAM_THRESHOLD"
	defaultDotEnvPath   = ".env"
	dotEnvPathSeparator = ","
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Variables that are already set win. Missing files are ignored.
func LoadDotEnv(paths string) error {
	if strings.TrimSpace(paths) == "" {
		paths = defaultDotEnvPath
	}
	for _, p := range strings.Split(paths, dotEnvPathSeparator) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str(EnvXAccessToken, &cfg.Social.AccessToken)
	str(EnvXUserID, &cfg.Social.UserID)
	str(EnvCoinGeckoAPIKey, &cfg.Market.APIKey)
	str(EnvRedisPassword, &cfg.RateLimit.Redis.Password)
	str(EnvServerToken, &cfg.Server.Token)
	str(EnvLogLevel, &cfg.Logging.Level)

	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvRateLimitPerMin); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q: %w", EnvRateLimitPerMin, v, err)
		}
		cfg.RateLimit.PerMinute = &n
	}
	if v, ok := lookup(EnvSpamThreshold); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q: %w", EnvSpamThreshold, v, err)
		}
		cfg.Spam.Threshold = n
	}
	return nil
}
