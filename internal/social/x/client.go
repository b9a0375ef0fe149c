// Package x talks to the X API v2 with an OAuth2 user-context bearer token.
package x

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"xbot/internal/remote"
	logx "xbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.x.com"
	DefaultTimeout = 15 * time.Second

	// recent search accepts 10..100 results per page
	minSearchResults = 10
	maxSearchResults = 100
)

var (
	ErrNoToken = errors.New("x: access token is not configured")
	ErrNoID    = errors.New("x: response carried no id")
)

type Config struct {
	BaseURL     string
	AccessToken string
	// UserID is looked up from /2/users/me when empty.
	UserID  string
	Timeout time.Duration
	HTTP    *http.Client
	Breaker *remote.Breaker
}

type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Client struct {
	rc  *remote.Client
	log logx.Logger

	mu     sync.Mutex
	userID string
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, ErrNoToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	rc, err := remote.New(remote.Options{
		Service: "x",
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Header:  http.Header{"Authorization": []string{"Bearer " + strings.TrimSpace(cfg.AccessToken)}},
		HTTP:    cfg.HTTP,
		Breaker: cfg.Breaker,
	}, log)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{rc: rc, log: log, userID: strings.TrimSpace(cfg.UserID)}, nil
}

type tweetEnvelope struct {
	Data Tweet `json:"data"`
}

type createTweet struct {
	Text  string      `json:"text"`
	Reply *replyField `json:"reply,omitempty"`
}

type replyField struct {
	InReplyTo string `json:"in_reply_to_tweet_id"`
}

// Post publishes a standalone post and returns its id.
func (c *Client) Post(ctx context.Context, text string) (string, error) {
	return c.create(ctx, createTweet{Text: text})
}

// Reply publishes text as a reply to target and returns the new post's id.
func (c *Client) Reply(ctx context.Context, target, text string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("x: reply target is empty")
	}
	return c.create(ctx, createTweet{Text: text, Reply: &replyField{InReplyTo: target}})
}

func (c *Client) create(ctx context.Context, body createTweet) (string, error) {
	var out tweetEnvelope
	if err := c.rc.DoJSON(ctx, http.MethodPost, "/2/tweets", nil, body, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", ErrNoID
	}
	return out.Data.ID, nil
}

// Like likes the post as the authenticated user.
func (c *Client) Like(ctx context.Context, id string) error {
	uid, err := c.UserID(ctx)
	if err != nil {
		return err
	}
	var out struct {
		Data struct {
			Liked bool `json:"liked"`
		} `json:"data"`
	}
	path := "/2/users/" + url.PathEscape(uid) + "/likes"
	if err := c.rc.DoJSON(ctx, http.MethodPost, path, nil, map[string]string{"tweet_id": id}, &out); err != nil {
		return err
	}
	if !out.Data.Liked {
		return fmt.Errorf("x: like %s not acknowledged", id)
	}
	return nil
}

// Search returns at most limit recent posts matching query. The API's page size is
// clamped to its accepted range and the result is trimmed to limit.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Tweet, error) {
	if limit <= 0 {
		return nil, nil
	}
	n := min(max(limit, minSearchResults), maxSearchResults)
	q := url.Values{
		"query":       {query},
		"max_results": {strconv.Itoa(n)},
	}
	var out struct {
		Data []Tweet `json:"data"`
	}
	if err := c.rc.DoJSON(ctx, http.MethodGet, "/2/tweets/search/recent", q, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) > limit {
		out.Data = out.Data[:limit]
	}
	return out.Data, nil
}

// UserID returns the configured user id or resolves it once from /2/users/me.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := c.rc.DoJSON(ctx, http.MethodGet, "/2/users/me", nil, nil, &out); err != nil {
		return "", fmt.Errorf("x: resolve user id: %w", err)
	}
	if out.Data.ID == "" {
		return "", ErrNoID
	}
	c.userID = out.Data.ID
	c.log.Info("x user resolved", logx.String("user_id", out.Data.ID), logx.String("username", out.Data.Username))
	return c.userID, nil
}
