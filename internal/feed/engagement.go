// Reelfeed - Discover Feed Playback and Preload Engine
// Copyright 2026 Kikwetu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kikwetu/reelfeed

package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// EngagementClient is the HTTP implementation of EngagementService.
type EngagementClient struct {
	baseURL string
	httpc   *http.Client
}

// NewEngagementClient creates an engagement mutation client.
func NewEngagementClient(baseURL string, timeout time.Duration) *EngagementClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EngagementClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// engagementResponse is the server's confirmed state after a mutation.
type engagementResponse struct {
	State bool `json:"state"`
}

// ToggleLike implements EngagementService.
func (c *EngagementClient) ToggleLike(ctx context.Context, entryID string) (bool, error) {
	return c.post(ctx, "/v1/feed/"+entryID+"/like")
}

// Save implements EngagementService.
func (c *EngagementClient) Save(ctx context.Context, entryID string) (bool, error) {
	return c.post(ctx, "/v1/feed/"+entryID+"/save")
}

// Follow implements EngagementService.
func (c *EngagementClient) Follow(ctx context.Context, authorID string) (bool, error) {
	return c.post(ctx, "/v1/authors/"+authorID+"/follow")
}

func (c *EngagementClient) post(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("engagement: build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("engagement: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("engagement: %s: unexpected status %d", path, resp.StatusCode)
	}

	var out engagementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("engagement: decode response: %w", err)
	}
	return out.State, nil
}
