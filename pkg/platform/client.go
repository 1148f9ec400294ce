// Package platform is the client for the trading platform REST API. It
// honors the request and response contract of the backend and keeps a
// small tag-invalidated cache of query results.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	AccessToken() string
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int

	ActivePositionsTTL  time.Duration
	HistoryPositionsTTL time.Duration
	DefaultTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:             "http://localhost:8080",
		Timeout:             30 * time.Second,
		RateLimit:           10,
		Burst:               5,
		ActivePositionsTTL:  10 * time.Second,
		HistoryPositionsTTL: 30 * time.Second,
		DefaultTTL:          60 * time.Second,
	}
}

type Client struct {
	cfg     Config
	http    *resty.Client
	tokens  TokenSource
	limiter *rate.Limiter
	cache   *responseCache
	logger  *logrus.Logger
	metrics *metrics.Registry
}

func NewClient(cfg Config, tokens TokenSource, clk clock.Clock, logger *logrus.Logger, m *metrics.Registry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		cache:   newResponseCache(clk),
		logger:  logger,
		metrics: m,
	}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	r.SetHeader("X-Request-ID", uuid.NewString())
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			r.SetAuthToken(token)
		}
	}
	return r
}

// execute sends the request, records it and returns the raw body of a
// 2xx response.
func (c *Client) execute(ctx context.Context, endpoint string, r *resty.Request, method, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, networkError(err)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		c.record(endpoint, "error")
		c.logger.WithError(err).WithField("endpoint", endpoint).Warn("API request failed")
		return nil, networkError(err)
	}
	c.record(endpoint, strconv.Itoa(resp.StatusCode()))

	if resp.IsError() {
		apiErr := statusError(resp.StatusCode(), resp.Body())
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode(),
			"detail":   apiErr.Detail,
		}).Warn("API request rejected")
		return nil, apiErr
	}
	return resp.Body(), nil
}

func (c *Client) record(endpoint, code string) {
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(endpoint, code).Inc()
	}
}

// send issues a JSON request and decodes the reply into out when out is
// non-nil.
func (c *Client) send(ctx context.Context, endpoint, method, path string, body, out any) error {
	r := c.newRequest(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	raw, err := c.execute(ctx, endpoint, r, method, path)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

// query is a cached GET. Entries live for ttl or until one of tags is
// invalidated.
func (c *Client) query(ctx context.Context, endpoint, path string, params url.Values, ttl time.Duration, out any, tags ...string) error {
	key := path
	if len(params) > 0 {
		key += "?" + params.Encode()
	}
	if raw, ok := c.cache.get(key); ok {
		return decode(raw, out)
	}

	r := c.newRequest(ctx)
	if len(params) > 0 {
		r.SetQueryParamsFromValues(params)
	}
	raw, err := c.execute(ctx, endpoint, r, http.MethodGet, path)
	if err != nil {
		return err
	}
	if err := decode(raw, out); err != nil {
		return err
	}
	c.cache.put(key, ttl, raw, tags...)
	return nil
}

// Invalidate drops cached queries carrying any of tags.
func (c *Client) Invalidate(tags ...string) {
	c.cache.invalidate(tags...)
}

// ResetCache drops every cached query. Cached replies belong to the
// account that fetched them, so this runs whenever the account changes.
func (c *Client) ResetCache() {
	c.cache.reset()
}

func decode(raw []byte, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: KindServer, Detail: fmt.Sprintf("decode response: %v", err), Err: err}
	}
	return nil
}
