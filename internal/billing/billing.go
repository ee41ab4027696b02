// Package billing reads the usage and subscription endpoints for display.
//
// Both calls are best effort: the numbers are informational and a failure
// never affects chatting.
package billing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/streamchat/internal/credentials"
)

const (
	UsagePath        = "/dashboard/billing/usage"
	SubscriptionPath = "/dashboard/billing/subscription"

	dateLayout      = "2006-01-02"
	maxResponseSize = 1 << 20
	defaultTimeout  = 30 * time.Second
)

// Usage is the spending summary of a period.
type Usage struct {
	Used         float64 // USD spent in the period
	Subscription float64 // Hard limit in USD, 0 when unknown
	Start        time.Time
	End          time.Time
}

// Client queries the billing endpoints.
type Client struct {
	resolver credentials.Resolver
	timeout  time.Duration
	now      func() time.Time
}

// NewClient creates a billing client.
func NewClient(resolver credentials.Resolver) *Client {
	return &Client{resolver: resolver, timeout: defaultTimeout, now: time.Now}
}

// Usage returns the spending in USD between start and end.
// The endpoint reports cents.
func (c *Client) Usage(ctx context.Context, start, end time.Time) (float64, error) {
	q := url.Values{}
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", end.Format(dateLayout))

	body, err := c.get(ctx, UsagePath+"?"+q.Encode())
	if err != nil {
		return 0, err
	}
	v := gjson.GetBytes(body, "total_usage")
	if !v.Exists() {
		return 0, fmt.Errorf("usage response has no total_usage")
	}
	return v.Float() / 100, nil
}

// Subscription returns the hard spending limit in USD.
func (c *Client) Subscription(ctx context.Context) (float64, error) {
	body, err := c.get(ctx, SubscriptionPath)
	if err != nil {
		return 0, err
	}
	v := gjson.GetBytes(body, "hard_limit_usd")
	if !v.Exists() {
		return 0, fmt.Errorf("subscription response has no hard_limit_usd")
	}
	return v.Float(), nil
}

// CurrentMonth returns usage from the first of this month until tomorrow,
// plus the subscription limit when available.
func (c *Client) CurrentMonth(ctx context.Context) (*Usage, error) {
	now := c.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := now.AddDate(0, 0, 1)

	used, err := c.Usage(ctx, start, end)
	if err != nil {
		return nil, err
	}

	u := &Usage{Used: used, Start: start, End: end}
	if limit, err := c.Subscription(ctx); err != nil {
		log.Debug().Err(err).Msg("billing: subscription unavailable")
	} else {
		u.Subscription = limit
	}
	return u, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolver.URL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.resolver.Authorize(req); err != nil {
		return nil, fmt.Errorf("failed to authorize request: %w", err)
	}

	resp, err := c.resolver.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("billing request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read billing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := string(body)
		if len(errBody) > 200 {
			errBody = errBody[:200] + "...(truncated)"
		}
		return nil, fmt.Errorf("billing %s returned %d: %s", path, resp.StatusCode, errBody)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("billing %s returned invalid JSON", path)
	}
	return body, nil
}
