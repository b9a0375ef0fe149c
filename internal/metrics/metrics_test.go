package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngagementsCountEveryAction(t *testing.T) {
	r := New(false)
	r.Posted()
	r.Replied()
	r.Replied()
	r.Liked()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Posts))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Replies))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Likes))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.Engagements))
}

func TestJobsByOutcome(t *testing.T) {
	r := New(false)
	r.JobFinished("engagement", "success")
	r.JobFinished("engagement", "success")
	r.JobFinished("promotion", "rate_limited")
	r.Throttled()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Jobs.WithLabelValues("engagement", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Jobs.WithLabelValues("promotion", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RateLimited))
}

func TestHandlerExposition(t *testing.T) {
	r := New(true)
	r.Posted()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "posts_total 1")
	assert.Contains(t, text, "engagements_total 1")
	assert.Contains(t, text, "# TYPE likes_total counter")
	assert.True(t, strings.Contains(text, "go_goroutines"), "runtime collectors registered")
}
