package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "xbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler, br *Breaker) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		Service: "test",
		BaseURL: srv.URL + "/api",
		Header:  http.Header{"X-Key": []string{"k"}},
		HTTP:    srv.Client(),
		Breaker: br,
	}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestDoJSONRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/items", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("n"))
		assert.Equal(t, "k", r.Header.Get("X-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["text"]})
	}), nil)

	var out struct{ Echo string }
	err := c.DoJSON(context.Background(), http.MethodPost, "/items", url.Values{"n": {"1"}}, map[string]string{"text": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
}

func TestDoJSONStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}), nil)

	err := c.DoJSON(context.Background(), http.MethodGet, "x", nil, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "nope", se.Body)
	assert.False(t, se.Temporary())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{Service: "x", BaseURL: "not a url"}, logx.Nop())
	assert.Error(t, err)
}

func TestBreakerTripsOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	br := NewBreaker("test", BreakerConfig{ConsecutiveFailures: 2, OpenFor: time.Minute}, logx.Nop())
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), br)

	for i := 0; i < 2; i++ {
		var se *StatusError
		require.ErrorAs(t, c.DoJSON(context.Background(), http.MethodGet, "x", nil, nil, nil), &se)
	}
	err := c.DoJSON(context.Background(), http.MethodGet, "x", nil, nil, nil)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load(), "open breaker does not call the service")
	assert.Equal(t, "open", br.State())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	br := NewBreaker("test", BreakerConfig{ConsecutiveFailures: 1}, logx.Nop())
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), br)

	for i := 0; i < 3; i++ {
		var se *StatusError
		require.ErrorAs(t, c.DoJSON(context.Background(), http.MethodGet, "x", nil, nil, nil), &se)
	}
	assert.Equal(t, "closed", br.State())
}

func TestBreakerIgnoresCanceledCalls(t *testing.T) {
	br := NewBreaker("test", BreakerConfig{ConsecutiveFailures: 1}, logx.Nop())
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}), br)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		err := c.DoJSON(ctx, http.MethodGet, "x", nil, nil, nil)
		cancel()
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", br.State())
}
