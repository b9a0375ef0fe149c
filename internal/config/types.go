package config

// Config is the on-disk configuration (JSON or YAML).
//
// Only the logging section is applied on hot reload. Everything else is read once at start-up;
// a change is reported as "restart required".
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Bot        BotConfig         `json:"bot"`
	RateLimit  RateLimitConfig   `json:"rate_limit"`
	Spam       SpamConfig        `json:"spam"`
	Schedule   ScheduleConfig    `json:"schedule"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Social     SocialConfig      `json:"social"`
	Market     MarketConfig      `json:"market"`
	Server     ServerConfig      `json:"server"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Telegram   *TelegramConfig   `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingAlert forwards high-severity log lines to the Telegram chat in the telegram section.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BotConfig holds the engagement knobs and the message catalogue.
type BotConfig struct {
	Query       string   `json:"query,omitempty"`
	SearchLimit int      `json:"search_limit,omitempty"`
	CallTimeout string   `json:"call_timeout,omitempty"`
	Messages    Messages `json:"messages"`
}

// Messages are externally supplied templates. Empty fields fall back to the built-in catalogue.
type Messages struct {
	// MarketUpdate is a text/template with .Asset, .AssetID and .Price.
	MarketUpdate     string   `json:"market_update,omitempty"`
	Reply            string   `json:"reply,omitempty"`
	Promotions       []string `json:"promotions,omitempty"`
	SpecificTarget   string   `json:"specific_target,omitempty"`
	SpecificReplies  []string `json:"specific_replies,omitempty"`
	SpecificFallback string   `json:"specific_fallback,omitempty"`
	TestPost         string   `json:"test_post,omitempty"`
}

// RateLimitConfig controls the shared per-minute quota.
//
// PerMinute is a pointer so an explicit 0 (always reject) differs from "omitted" (default 10).
type RateLimitConfig struct {
	PerMinute *int        `json:"per_minute,omitempty"`
	Backend   string      `json:"backend,omitempty"` // "memory" (default) | "redis"
	Redis     RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // prefer REDIS_PASSWORD
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type SpamConfig struct {
	Threshold int      `json:"threshold,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

// ScheduleConfig defines the recurring jobs.
//
// Intervals accept anything the scheduler parses: "30m", "every:1h", "@every 15m" or a cron spec.
// An empty specific_promotion leaves that job unscheduled.
type ScheduleConfig struct {
	Enabled           bool   `json:"enabled"`
	Timezone          string `json:"timezone,omitempty"`
	MarketUpdate      string `json:"market_update,omitempty"`
	Engagement        string `json:"engagement,omitempty"`
	Promotion         string `json:"promotion,omitempty"`
	SpecificPromotion string `json:"specific_promotion,omitempty"`
	JobTimeout        string `json:"job_timeout,omitempty"`
	// StartupSpread delays the first firing of interval jobs by a random jitter (default true).
	StartupSpread *bool `json:"startup_spread,omitempty"`
}

// TaskEngineConfig controls the worker pool that executes triggered jobs.
//
// Defaults: workers 4, queue_size 64, history_size 200, max_queue_delay "0s" (disabled).
type TaskEngineConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// SocialConfig configures the X API v2 client.
type SocialConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	AccessToken string `json:"access_token,omitempty"` // prefer X_ACCESS_TOKEN
	UserID      string `json:"user_id,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// MarketConfig configures the CoinGecko client.
type MarketConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"` // prefer COINGECKO_API_KEY
	Currency   string `json:"currency,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	PriceTTL   string `json:"price_ttl,omitempty"`
}

// ServerConfig controls the status/health HTTP surface.
//
// Mutating routes (manual triggers) require Token when it is set. Binding to a non-loopback
// address without a token needs allow_insecure.
type ServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout    string `json:"read_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`
	IdleTimeout    string `json:"idle_timeout,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/xbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig is the destination of operator alerts.
type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // prefer TELEGRAM_TOKEN
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
