package bot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbot/internal/eventbus"
	"xbot/internal/spam"
)

var fixedNow = time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)

type harness struct {
	social *fakeSocial
	market *fakeMarket
	quota  *quota
	rec    *countingRecorder
	orch   *Orchestrator
}

func newHarness(t *testing.T, q int, opts ...func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		social: &fakeSocial{postID: "p1", replyID: "r1"},
		market: &fakeMarket{},
		quota:  newQuota(q),
		rec:    &countingRecorder{},
	}
	cfg := Config{}
	deps := Deps{
		Social:  h.social,
		Market:  h.market,
		Limiter: h.quota,
		Spam:    keywordSpam("SPAM"),
		Metrics: h.rec,
		Pick:    func(int) int { return 0 },
		Now:     func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	orch, err := New(cfg, deps, nopLog(), nil)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{}, nopLog(), nil)
	assert.Error(t, err)
}

func TestNewRejectsBadTemplate(t *testing.T) {
	_, err := New(Config{Messages: Messages{MarketUpdate: "{{.Asset"}}, Deps{
		Social: &fakeSocial{}, Market: &fakeMarket{}, Limiter: newQuota(1), Spam: keywordSpam(""),
	}, nopLog(), nil)
	assert.Error(t, err)
}

func TestPostMarketUpdateRateLimitedStillMarksStatus(t *testing.T) {
	h := newHarness(t, 0)
	h.market.trending = []string{"dogwifhat"}

	out := h.orch.PostMarketUpdate(context.Background())

	assert.Equal(t, OutcomeRateLimited, out)
	assert.Empty(t, h.social.Calls(), "no remote call under rate-limit rejection")
	last, ok := h.orch.Status().Last(JobMarketUpdate)
	require.True(t, ok, "last_market_update is written even when the gate rejects")
	assert.True(t, last.Equal(fixedNow))
	assert.Equal(t, int32(1), h.rec.throttled.Load())
}

func TestPostMarketUpdateEmptyTrending(t *testing.T) {
	h := newHarness(t, 5)

	out := h.orch.PostMarketUpdate(context.Background())

	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, h.market.priceCalls.Load(), "price is never fetched without a trending asset")
	assert.Zero(t, h.social.count("post"))
	_, ok := h.orch.Status().Last(JobMarketUpdate)
	assert.True(t, ok)
}

func TestPostMarketUpdateNoPrice(t *testing.T) {
	h := newHarness(t, 5)
	h.market.trending = []string{"bonk"}

	assert.Equal(t, OutcomeSkipped, h.orch.PostMarketUpdate(context.Background()))
	assert.Zero(t, h.social.count("post"))
}

func TestPostMarketUpdateSuccess(t *testing.T) {
	h := newHarness(t, 5)
	h.market.trending = []string{"dogwifhat", "bonk"}
	h.market.price = decimal.RequireFromString("1.2345")
	h.market.hasPrice = true

	out := h.orch.PostMarketUpdate(context.Background())

	require.Equal(t, OutcomeSuccess, out)
	calls := h.social.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Trending memecoin: Dogwifhat at $1.2345 USD. #memecoin #crypto", calls[0].Text)
	assert.Equal(t, int32(1), h.rec.posts.Load())
	assert.Equal(t, 1, h.rec.job(JobMarketUpdate, OutcomeSuccess))
}

func TestPostMarketUpdateRemoteFailures(t *testing.T) {
	t.Run("trending error", func(t *testing.T) {
		h := newHarness(t, 5)
		h.market.trendingErr = errors.New("boom")
		assert.Equal(t, OutcomeFailed, h.orch.PostMarketUpdate(context.Background()))
	})
	t.Run("post returns no id", func(t *testing.T) {
		h := newHarness(t, 5)
		h.social.postID = ""
		h.market.trending = []string{"bonk"}
		h.market.price = decimal.NewFromInt(2)
		h.market.hasPrice = true
		assert.Equal(t, OutcomeFailed, h.orch.PostMarketUpdate(context.Background()))
		assert.Zero(t, h.rec.posts.Load())
	})
}

func TestEngageSpamSkippedAndQuotaBreaks(t *testing.T) {
	h := newHarness(t, 1)
	h.social.items = []Item{
		{ID: "s", Text: "SPAM"},
		{ID: "a", Text: "dog festival today"},
		{ID: "b", Text: "kukur tihar"},
	}

	out := h.orch.EngageWithTweets(context.Background(), "dogs")

	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, int32(2), h.quota.calls.Load(), "spam never reaches the gate; b is rejected")
	assert.Equal(t, []call{
		{Kind: "search", Text: "dogs"},
		{Kind: "like", Target: "a"},
		{Kind: "reply", Target: "a", Text: DefaultMessages().Reply},
	}, h.social.Calls())
	assert.Equal(t, int32(1), h.rec.likes.Load())
	assert.Equal(t, int32(1), h.rec.replies.Load())
	_, ok := h.orch.Status().Last(JobEngagement)
	assert.True(t, ok)
}

func TestEngageReplyFailureContinues(t *testing.T) {
	h := newHarness(t, 5)
	h.social.items = []Item{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}
	h.social.replyFail = map[string]bool{"a": true}

	out := h.orch.EngageWithTweets(context.Background(), "")

	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, 2, h.social.count("reply"))
	assert.Equal(t, int32(1), h.rec.replies.Load())
	assert.Equal(t, DefaultQuery, h.social.Calls()[0].Text, "empty query selects the default")
}

func TestEngageLikeIsBestEffort(t *testing.T) {
	h := newHarness(t, 5)
	h.social.items = []Item{{ID: "a", Text: "x"}}
	h.social.likeErr = errors.New("forbidden")

	assert.Equal(t, OutcomeSuccess, h.orch.EngageWithTweets(context.Background(), "q"))
	assert.Zero(t, h.rec.likes.Load(), "a failed like is not counted")
	assert.Equal(t, int32(1), h.rec.replies.Load(), "a failed like does not gate the reply")
}

func TestEngageOutcomes(t *testing.T) {
	t.Run("search error", func(t *testing.T) {
		h := newHarness(t, 5)
		h.social.searchErr = errors.New("down")
		assert.Equal(t, OutcomeFailed, h.orch.EngageWithTweets(context.Background(), "q"))
		_, ok := h.orch.Status().Last(JobEngagement)
		assert.True(t, ok)
	})
	t.Run("no results", func(t *testing.T) {
		h := newHarness(t, 5)
		assert.Equal(t, OutcomeSkipped, h.orch.EngageWithTweets(context.Background(), "q"))
	})
	t.Run("only spam", func(t *testing.T) {
		h := newHarness(t, 5)
		h.social.items = []Item{{ID: "s", Text: "SPAM"}}
		assert.Equal(t, OutcomeSkipped, h.orch.EngageWithTweets(context.Background(), "q"))
		assert.Zero(t, h.quota.calls.Load())
	})
	t.Run("quota exhausted", func(t *testing.T) {
		h := newHarness(t, 0)
		h.social.items = []Item{{ID: "a", Text: "x"}}
		assert.Equal(t, OutcomeRateLimited, h.orch.EngageWithTweets(context.Background(), "q"))
	})
	t.Run("every reply fails", func(t *testing.T) {
		h := newHarness(t, 5)
		h.social.items = []Item{{ID: "a", Text: "x"}}
		h.social.replyErr = errors.New("nope")
		assert.Equal(t, OutcomeFailed, h.orch.EngageWithTweets(context.Background(), "q"))
	})
}

func TestEngageWithRealSpamFilter(t *testing.T) {
	h := newHarness(t, 5, func(_ *Config, d *Deps) { d.Spam = spam.New(nil, 1) })
	h.social.items = []Item{{ID: "a", Text: "obvious SCAM"}, {ID: "b", Text: "good dog"}}

	h.orch.EngageWithTweets(context.Background(), "q")

	assert.Equal(t, 1, h.social.count("reply"))
	assert.Equal(t, int32(1), h.quota.calls.Load())
}

func TestPromoteCommunity(t *testing.T) {
	t.Run("rate limited leaves status untouched", func(t *testing.T) {
		h := newHarness(t, 0)
		assert.Equal(t, OutcomeRateLimited, h.orch.PromoteCommunity(context.Background()))
		_, ok := h.orch.Status().Last(JobPromotion)
		assert.False(t, ok)
		assert.Empty(t, h.social.Calls())
	})
	t.Run("posts picked message", func(t *testing.T) {
		msgs := []string{"one", "two", "three"}
		h := newHarness(t, 1, func(c *Config, d *Deps) {
			c.Messages.Promotions = msgs
			d.Pick = func(n int) int { return n - 1 }
		})
		assert.Equal(t, OutcomeSuccess, h.orch.PromoteCommunity(context.Background()))
		require.Len(t, h.social.Calls(), 1)
		assert.Equal(t, "three", h.social.Calls()[0].Text)
		_, ok := h.orch.Status().Last(JobPromotion)
		assert.True(t, ok)
	})
	t.Run("failure still marks status", func(t *testing.T) {
		h := newHarness(t, 1)
		h.social.postErr = errors.New("boom")
		assert.Equal(t, OutcomeFailed, h.orch.PromoteCommunity(context.Background()))
		_, ok := h.orch.Status().Last(JobPromotion)
		assert.True(t, ok)
	})
	t.Run("out of range pick is clamped", func(t *testing.T) {
		h := newHarness(t, 1, func(_ *Config, d *Deps) { d.Pick = func(int) int { return 99 } })
		assert.Equal(t, OutcomeSuccess, h.orch.PromoteCommunity(context.Background()))
		assert.Equal(t, DefaultMessages().Promotions[0], h.social.Calls()[0].Text)
	})
}

func TestPromoteSpecificPost(t *testing.T) {
	target := DefaultMessages().SpecificTarget

	t.Run("reply succeeds", func(t *testing.T) {
		h := newHarness(t, 1)
		assert.Equal(t, OutcomeSuccess, h.orch.PromoteSpecificPost(context.Background()))
		assert.Equal(t, int32(1), h.rec.replies.Load())
		assert.Zero(t, h.rec.posts.Load())
	})
	t.Run("reply fails, fallback succeeds", func(t *testing.T) {
		h := newHarness(t, 1)
		h.social.replyFail = map[string]bool{target: true}

		assert.Equal(t, OutcomeSuccess, h.orch.PromoteSpecificPost(context.Background()))
		assert.Equal(t, int32(1), h.rec.posts.Load())
		assert.Zero(t, h.rec.replies.Load())
		assert.Equal(t, int32(1), h.quota.calls.Load(), "fallback does not consume extra quota")
		calls := h.social.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, DefaultMessages().SpecificFallback, calls[1].Text)
	})
	t.Run("both fail", func(t *testing.T) {
		h := newHarness(t, 1)
		h.social.replyErr = errors.New("reply down")
		h.social.postErr = errors.New("post down")
		assert.Equal(t, OutcomeFailed, h.orch.PromoteSpecificPost(context.Background()))
		_, ok := h.orch.Status().Last(JobSpecificPromotion)
		assert.True(t, ok)
	})
	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(t, 0)
		assert.Equal(t, OutcomeRateLimited, h.orch.PromoteSpecificPost(context.Background()))
		assert.Empty(t, h.social.Calls())
		_, ok := h.orch.Status().Last(JobSpecificPromotion)
		assert.False(t, ok)
	})
}

func TestPostTest(t *testing.T) {
	h := newHarness(t, 1)
	out, id := h.orch.PostTest(context.Background())
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "p1", id)

	out, id = h.orch.PostTest(context.Background())
	assert.Equal(t, OutcomeRateLimited, out)
	assert.Empty(t, id)
}

func TestRunDispatch(t *testing.T) {
	h := newHarness(t, 5)
	h.social.postErr = errors.New("down")

	_, err := h.orch.Run(context.Background(), Job("nope"))
	assert.ErrorIs(t, err, ErrUnknownJob)

	out, err := h.orch.Run(context.Background(), JobPromotion)
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrJobFailed)

	out, err = h.orch.Run(context.Background(), JobEngagement)
	assert.Equal(t, OutcomeSkipped, out)
	assert.NoError(t, err)
}

func TestCallTimeoutBoundsRemoteCalls(t *testing.T) {
	h := newHarness(t, 1, func(c *Config, _ *Deps) { c.CallTimeout = 20 * time.Millisecond })
	h.social.block = true

	done := make(chan Outcome, 1)
	go func() { done <- h.orch.PromoteCommunity(context.Background()) }()
	select {
	case out := <-done:
		assert.Equal(t, OutcomeFailed, out)
	case <-time.After(2 * time.Second):
		t.Fatal("remote call was not bounded by the call timeout")
	}
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	orch, err := New(Config{}, Deps{
		Social:  &fakeSocial{postID: "p9"},
		Market:  &fakeMarket{},
		Limiter: newQuota(1),
		Spam:    keywordSpam(""),
		Now:     func() time.Time { return fixedNow },
	}, nopLog(), bus)
	require.NoError(t, err)

	orch.PromoteCommunity(context.Background())

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
			switch d := ev.Data.(type) {
			case ActionEvent:
				assert.Equal(t, "post", d.Kind)
				assert.Equal(t, "p9", d.ResultID)
				assert.True(t, d.OK)
			case JobEvent:
				assert.Equal(t, JobPromotion, d.Job)
				assert.Equal(t, OutcomeSuccess, d.Outcome)
				require.NotNil(t, d.Status.LastPromotion)
			}
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", got)
		}
	}
	assert.Equal(t, []string{EventAction, EventJob}, got)
}

func TestStatusSnapshotJSON(t *testing.T) {
	s := NewStatus()
	s.Mark(JobEngagement, fixedNow)

	b, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"last_market_update": null,
		"last_engagement": "2025-09-18T10:00:00Z",
		"last_promotion": null,
		"last_specific_promotion": null
	}`, string(b))
}

func TestStatusRestoreKeepsNewer(t *testing.T) {
	s := NewStatus()
	s.Mark(JobPromotion, fixedNow)
	s.Restore(map[string]time.Time{
		string(JobPromotion):    fixedNow.Add(-time.Hour),
		string(JobMarketUpdate): fixedNow.Add(-time.Minute),
		"unknown":               fixedNow,
	})

	got, _ := s.Last(JobPromotion)
	assert.True(t, got.Equal(fixedNow))
	got, ok := s.Last(JobMarketUpdate)
	assert.True(t, ok)
	assert.True(t, got.Equal(fixedNow.Add(-time.Minute)))
	assert.Len(t, s.Snapshot().Map(), 2)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Dogwifhat", capitalize("dogwifhat"))
	assert.Equal(t, "Pepe", capitalize("PEPE"))
	assert.Equal(t, "", capitalize(""))
}
