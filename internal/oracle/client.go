package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/metrics"

	"github.com/go-resty/resty/v2"
)

// ErrRestarting is returned while the price feed has not collected enough blocks.
var ErrRestarting = errors.New("oracle is restarting")

// Reading is the fixed JSON shape served by the price feed, prices in gwei.
type Reading struct {
	SafeLow   float64 `json:"safeLow"`
	Standard  float64 `json:"standard"`
	Fast      float64 `json:"fast"`
	Fastest   float64 `json:"fastest"`
	BlockTime float64 `json:"block_time"`
	BlockNum  uint64  `json:"blockNum"`
}

// Ready reports whether the reading carries prices.
func (r *Reading) Ready() bool {
	return r.Standard != 0
}

// Source produces the current reading.
type Source interface {
	Fetch(ctx context.Context) (*Reading, error)
}

// Client fetches readings from the price feed over HTTP.
type Client struct {
	http    *resty.Client
	metrics metrics.Metrics
}

// NewClient creates a client for the feed at baseURL.
func NewClient(baseURL string, timeout time.Duration, m metrics.Metrics) *Client {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: http, metrics: m}
}

// Fetch returns the feed's current reading. Transport failures, non-2xx replies and
// not-ready readings are reported as internal errors.
func (c *Client) Fetch(ctx context.Context) (*Reading, error) {
	start := time.Now()
	reading, err := c.fetch(ctx)
	c.metrics.ObserveOracle(time.Since(start), err)
	return reading, err
}

func (c *Client) fetch(ctx context.Context) (*Reading, error) {
	var reading Reading
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&reading).
		Get("/")
	if err != nil {
		return nil, apperr.Internal("Error while trying to fetch information from price oracle.", err)
	}
	if resp.IsError() {
		return nil, apperr.Internal("Error while trying to fetch information from price oracle.",
			fmt.Errorf("oracle responded %s", resp.Status()))
	}
	if !reading.Ready() {
		return nil, apperr.New(apperr.KindInternal, "Oracle is restarting", ErrRestarting)
	}
	return &reading, nil
}
