package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	logx "xbot/pkg/logx"
)

const defaultRedisKey = "xbot:ratelimit"

// RedisWindow keeps the sliding window in a Redis sorted set so several bot processes share one
// quota. Scores are acceptance times in unix milliseconds.
// A Redis error rejects the request.
type RedisWindow struct {
	rdb   redis.Cmdable
	key   string
	limit int
	size  time.Duration
	log   logx.Logger

	now    func() time.Time
	member func(now time.Time) string
}

// RedisOptions tunes a RedisWindow. Zero values keep the defaults.
type RedisOptions struct {
	Key          string
	Size         time.Duration
	TimeProvider func() time.Time
	UUIDProvider func() uuid.UUID
}

func NewRedisWindow(rdb redis.Cmdable, limit int, opts RedisOptions, log logx.Logger) *RedisWindow {
	w := &RedisWindow{
		rdb:   rdb,
		key:   strings.TrimSpace(opts.Key),
		limit: limit,
		size:  opts.Size,
		log:   log,
		now:   opts.TimeProvider,
	}
	if w.key == "" {
		w.key = defaultRedisKey
	}
	if w.size <= 0 {
		w.size = DefaultWindow
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	newID := opts.UUIDProvider
	if newID == nil {
		newID = uuid.New
	}
	w.member = func(now time.Time) string {
		return strconv.FormatInt(now.UnixMilli(), 10) + ":" + newID().String()
	}
	return w
}

// allowScript trims expired members, counts the rest and records the request only when
// the count is under the limit. Redis runs it atomically, so concurrent callers in any
// process never see the same free slot.
//
// KEYS[1] window key; ARGV window start (ms, exclusive), limit, score, member, ttl (ms).
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Allow reports whether a request may proceed now and, if so, records it.
func (w *RedisWindow) Allow(ctx context.Context) bool {
	if w.limit <= 0 {
		return false
	}
	now := w.now()
	ok, err := allowScript.Run(ctx, w.rdb, []string{w.key},
		w.windowStart(now),
		w.limit,
		now.UnixMilli(),
		w.member(now),
		w.size.Milliseconds(),
	).Int()
	if err != nil {
		w.log.Error("rate window update failed; rejecting", logx.String("key", w.key), logx.Err(err))
		return false
	}
	return ok == 1
}

func (w *RedisWindow) windowStart(now time.Time) string {
	return strconv.FormatInt(now.Add(-w.size).UnixMilli(), 10)
}

// Usage counts live members without recording anything.
func (w *RedisWindow) Usage(ctx context.Context) (used, limit int, err error) {
	n, err := w.rdb.ZCount(ctx, w.key, w.windowStart(w.now()), "+inf").Result()
	if err != nil {
		return 0, w.limit, fmt.Errorf("ratelimit: usage %s: %w", w.key, err)
	}
	return int(n), w.limit, nil
}
