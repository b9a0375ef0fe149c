// Package coingecko reads trending assets and spot prices from the CoinGecko public API.
package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"xbot/internal/remote"
	logx "xbot/pkg/logx"
)

const (
	DefaultBaseURL  = "https://api.coingecko.com/api/v3"
	DefaultCurrency = "usd"
	DefaultTimeout  = 10 * time.Second
	DefaultPriceTTL = time.Minute

	apiKeyHeader   = "x-cg-demo-api-key"
	priceCacheSize = 256
)

type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
	// RatePerSec paces outgoing requests; 0 disables pacing.
	RatePerSec int
	// PriceTTL caches prices; a negative value disables the cache.
	PriceTTL time.Duration
	HTTP     *http.Client
	Breaker  *remote.Breaker
}

type Client struct {
	rc       *remote.Client
	currency string
	lim      *rate.Limiter
	prices   *expirable.LRU[string, decimal.Decimal]
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cur := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if cur == "" {
		cur = DefaultCurrency
	}
	h := http.Header{}
	if k := strings.TrimSpace(cfg.APIKey); k != "" {
		h.Set(apiKeyHeader, k)
	}
	rc, err := remote.New(remote.Options{
		Service: "coingecko",
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Header:  h,
		HTTP:    cfg.HTTP,
		Breaker: cfg.Breaker,
	}, log)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{rc: rc, currency: cur, log: log}
	if cfg.RatePerSec > 0 {
		c.lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	ttl := cfg.PriceTTL
	if ttl == 0 {
		ttl = DefaultPriceTTL
	}
	if ttl > 0 {
		c.prices = expirable.NewLRU[string, decimal.Decimal](priceCacheSize, nil, ttl)
	}
	return c, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.lim == nil {
		return nil
	}
	if err := c.lim.Wait(ctx); err != nil {
		return fmt.Errorf("coingecko: pacing: %w", err)
	}
	return nil
}

// Trending returns the ids of the currently trending coins, most trending first.
func (c *Client) Trending(ctx context.Context) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out struct {
		Coins []struct {
			Item struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Symbol string `json:"symbol"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := c.rc.DoJSON(ctx, http.MethodGet, "/search/trending", nil, nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Coins))
	for _, coin := range out.Coins {
		if id := strings.TrimSpace(coin.Item.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Price returns the spot price of the asset in the configured currency. ok is false when
// the API knows no price for it.
func (c *Client) Price(ctx context.Context, id string) (decimal.Decimal, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return decimal.Decimal{}, false, nil
	}
	if c.prices != nil {
		if p, hit := c.prices.Get(id); hit {
			return p, true, nil
		}
	}
	if err := c.wait(ctx); err != nil {
		return decimal.Decimal{}, false, err
	}
	q := url.Values{"ids": {id}, "vs_currencies": {c.currency}}
	var out map[string]map[string]decimal.Decimal
	if err := c.rc.DoJSON(ctx, http.MethodGet, "/simple/price", q, nil, &out); err != nil {
		return decimal.Decimal{}, false, err
	}
	p, ok := out[id][c.currency]
	if !ok {
		c.log.Debug("no price for asset", logx.String("asset", id), logx.String("currency", c.currency))
		return decimal.Decimal{}, false, nil
	}
	if c.prices != nil {
		c.prices.Add(id, p)
	}
	return p, true, nil
}
