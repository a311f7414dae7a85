// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kikwetu/reelfeed/internal/logging"
	"github.com/kikwetu/reelfeed/internal/metrics"
)

// ErrFetchUnavailable is returned when the circuit breaker is open and the
// page fetch was not attempted. Already-rendered entries stay interactive;
// the caller surfaces a retry affordance for "load more" only.
var ErrFetchUnavailable = errors.New("feed: page source unavailable")

// ClientConfig configures the HTTP page source client.
type ClientConfig struct {
	// BaseURL is the feed ranking service endpoint.
	BaseURL string

	// PageSize is the number of entries requested per page.
	PageSize int

	// RequestTimeout bounds a single page fetch.
	RequestTimeout time.Duration

	// BreakerMaxFailures opens the breaker after this many consecutive
	// failures.
	BreakerMaxFailures int

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

// Client is an HTTP PageSource with a circuit breaker around the ranking
// service. Repeated backend failures trip the breaker so a degraded backend
// is not hammered by retry taps.
type Client struct {
	cfg     ClientConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[Page]
}

// NewClient creates a feed page source client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "feed-page-source",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed fetch breaker state change")
		},
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker[Page](settings),
	}
}

// FetchPage implements PageSource. It requests one page from the ranking
// service; failures are returned, never retried here. The controller owns
// the at-most-one-in-flight retry policy.
func (c *Client) FetchPage(ctx context.Context, filters Filters, pageToken string) (Page, error) {
	start := time.Now()
	page, err := c.breaker.Execute(func() (Page, error) {
		return c.fetchPage(ctx, filters, pageToken)
	})
	metrics.PageFetchDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PageFetches.WithLabelValues("breaker_open").Inc()
		return Page{}, fmt.Errorf("%w: %v", ErrFetchUnavailable, err)
	case err != nil:
		metrics.PageFetches.WithLabelValues("error").Inc()
		return Page{}, err
	}

	metrics.PageFetches.WithLabelValues("success").Inc()
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, filters Filters, pageToken string) (Page, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/v1/feed")
	if err != nil {
		return Page{}, fmt.Errorf("feed: parse base url: %w", err)
	}

	q := u.Query()
	q.Set("algorithm", string(filters.Algorithm))
	q.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	if filters.Category != "" {
		q.Set("category", filters.Category)
	}
	if filters.Location != "" {
		q.Set("location", filters.Location)
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("feed: fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("feed: fetch page: unexpected status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("feed: decode page: %w", err)
	}

	// Tag the variant once at the boundary.
	for i := range page.Entries {
		ResolveKind(&page.Entries[i])
	}
	return page, nil
}
