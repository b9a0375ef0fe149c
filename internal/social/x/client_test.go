package x

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xbot/internal/remote"
	logx "xbot/pkg/logx"
)

type fakeAPI struct {
	meCalls atomic.Int32

	mu      sync.Mutex
	created []map[string]any
	liked   []string
	query   string
	maxRes  string
}

func (f *fakeAPI) router(t *testing.T) http.Handler {
	r := mux.NewRouter()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, req)
		}
	}
	r.HandleFunc("/2/tweets", auth(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		f.created = append(f.created, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"t1","text":"ok"}}`))
	})).Methods(http.MethodPost)
	r.HandleFunc("/2/users/me", auth(func(w http.ResponseWriter, req *http.Request) {
		f.meCalls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"id":"u9","username":"bot"}}`))
	})).Methods(http.MethodGet)
	r.HandleFunc("/2/users/{id}/likes", auth(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "u9", mux.Vars(req)["id"])
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		f.liked = append(f.liked, body["tweet_id"])
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"data":{"liked":true}}`))
	})).Methods(http.MethodPost)
	r.HandleFunc("/2/tweets/search/recent", auth(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.query = req.URL.Query().Get("query")
		f.maxRes = req.URL.Query().Get("max_results")
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"data":[{"id":"1","text":"a"},{"id":"2","text":"b"},{"id":"3","text":"c"}],"meta":{"result_count":3}}`))
	})).Methods(http.MethodGet)
	return r
}

type apiState struct {
	created []map[string]any
	liked   []string
	query   string
	maxRes  string
}

func (f *fakeAPI) state() apiState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return apiState{created: f.created, liked: f.liked, query: f.query, maxRes: f.maxRes}
}

func newClient(t *testing.T, api *fakeAPI, userID string) *Client {
	t.Helper()
	srv := httptest.NewServer(api.router(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, AccessToken: "tok", UserID: userID, HTTP: srv.Client()}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPostAndReply(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(t, api, "")

	id, err := c.Post(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	id, err = c.Reply(context.Background(), "42", "hi back")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	st := api.state()
	require.Len(t, st.created, 2)
	assert.Equal(t, "hello", st.created[0]["text"])
	assert.Nil(t, st.created[0]["reply"])
	assert.Equal(t, map[string]any{"in_reply_to_tweet_id": "42"}, st.created[1]["reply"])

	_, err = c.Reply(context.Background(), " ", "x")
	assert.Error(t, err)
}

func TestLikeResolvesUserOnce(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(t, api, "")

	require.NoError(t, c.Like(context.Background(), "100"))
	require.NoError(t, c.Like(context.Background(), "101"))
	assert.Equal(t, []string{"100", "101"}, api.state().liked)
	assert.Equal(t, int32(1), api.meCalls.Load())
}

func TestLikeUsesConfiguredUser(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(t, api, "u9")
	require.NoError(t, c.Like(context.Background(), "5"))
	assert.Zero(t, api.meCalls.Load())
}

func TestSearchClampsAndTrims(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(t, api, "u9")

	got, err := c.Search(context.Background(), "memecoin OR crypto", 2)
	require.NoError(t, err)
	assert.Equal(t, []Tweet{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}}, got)
	st := api.state()
	assert.Equal(t, "memecoin OR crypto", st.query)
	assert.Equal(t, "10", st.maxRes)

	got, err = c.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnauthorizedIsStatusError(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.router(t))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, AccessToken: "wrong", HTTP: srv.Client()}, logx.Nop())
	require.NoError(t, err)

	_, err = c.Post(context.Background(), "x")
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}
