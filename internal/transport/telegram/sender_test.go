package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "xbot/pkg/logx"
)

type fakeAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
	fail  bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	if f.fail {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.texts = append(f.texts, body["text"].(string))
	f.chats = append(f.chats, body["chat_id"].(string))
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
}

func newSender(t *testing.T, api *fakeAPI) *Sender {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	s, err := New(Config{Token: "123:abc", ChatID: 42, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{ChatID: 1}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Token: "x"}, logx.Nop())
	assert.Error(t, err)
}

func TestSendText(t *testing.T) {
	api := &fakeAPI{}
	s := newSender(t, api)
	require.NoError(t, s.SendText(context.Background(), "ERROR remote failure"))
	assert.Equal(t, []string{"ERROR remote failure"}, api.texts)
	assert.Equal(t, []string{"42"}, api.chats)
}

func TestSendTextAPIError(t *testing.T) {
	s := newSender(t, &fakeAPI{fail: true})
	assert.Error(t, s.SendText(context.Background(), "x"))
}

func TestSendTextHonorsContext(t *testing.T) {
	api := &fakeAPI{}
	s := newSender(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SendText(ctx, "x"), context.Canceled)
	assert.Empty(t, api.texts)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	parts := splitText("aaaa\nbbbbbbbb", 8)
	assert.Equal(t, []string{"aaaa", "bbbbbbbb"}, parts)

	long := strings.Repeat("x", 25)
	parts = splitText(long, 10)
	require.Len(t, parts, 3)
	assert.Equal(t, long, strings.Join(parts, ""))
}
