package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	logx "xbot/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

type call struct {
	Kind   string
	Target string
	Text   string
}

type fakeSocial struct {
	mu    sync.Mutex
	calls []call

	items     []Item
	searchErr error

	postID   string
	postErr  error
	replyID  string
	replyErr error
	likeErr  error
	// replyFail lists targets whose replies fail.
	replyFail map[string]bool
	block     bool
}

func (f *fakeSocial) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSocial) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeSocial) count(kind string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeSocial) Post(ctx context.Context, text string) (string, error) {
	f.record(call{Kind: "post", Text: text})
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.postID, f.postErr
}

func (f *fakeSocial) Reply(_ context.Context, target, text string) (string, error) {
	f.record(call{Kind: "reply", Target: target, Text: text})
	if f.replyFail[target] {
		return "", errors.New("reply rejected")
	}
	return f.replyID, f.replyErr
}

func (f *fakeSocial) Like(_ context.Context, id string) error {
	f.record(call{Kind: "like", Target: id})
	return f.likeErr
}

func (f *fakeSocial) Search(_ context.Context, query string, limit int) ([]Item, error) {
	f.record(call{Kind: "search", Text: query})
	return f.items, f.searchErr
}

type fakeMarket struct {
	trending    []string
	trendingErr error
	price       decimal.Decimal
	hasPrice    bool
	priceErr    error
	priceCalls  atomic.Int32
}

func (m *fakeMarket) Trending(context.Context) ([]string, error) { return m.trending, m.trendingErr }

func (m *fakeMarket) Price(context.Context, string) (decimal.Decimal, bool, error) {
	m.priceCalls.Add(1)
	return m.price, m.hasPrice, m.priceErr
}

// quota admits the first n calls.
type quota struct {
	left  atomic.Int32
	calls atomic.Int32
}

func newQuota(n int) *quota {
	q := &quota{}
	q.left.Store(int32(n))
	return q
}

func (q *quota) Allow(context.Context) bool {
	q.calls.Add(1)
	return q.left.Add(-1) >= 0
}

type keywordSpam string

func (k keywordSpam) IsSpam(text string) bool { return string(k) != "" && text == string(k) }

type countingRecorder struct {
	posts, likes, replies, throttled atomic.Int32
	mu                               sync.Mutex
	jobs                             map[string]int
}

func (r *countingRecorder) Posted()    { r.posts.Add(1) }
func (r *countingRecorder) Liked()     { r.likes.Add(1) }
func (r *countingRecorder) Replied()   { r.replies.Add(1) }
func (r *countingRecorder) Throttled() { r.throttled.Add(1) }
func (r *countingRecorder) JobFinished(job, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs == nil {
		r.jobs = map[string]int{}
	}
	r.jobs[job+"/"+outcome]++
}

func (r *countingRecorder) job(job Job, out Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[string(job)+"/"+string(out)]
}
