package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackd/internal/config"
	"trackd/internal/tracking"
)

// HTTPPromoteClient asks the promotion service which paths of a tracking
// session were promoted onward.
type HTTPPromoteClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPromoteClient creates a promote client for the given base URL.
func NewHTTPPromoteClient(baseURL string, timeout time.Duration) *HTTPPromoteClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPPromoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewPromoteFromConfig creates a promote client from config. An empty URL
// disables the collaborator and returns nil.
func NewPromoteFromConfig(cfg config.EndpointConfig) tracking.PromoteService {
	if cfg.URL == "" {
		return nil
	}
	return NewHTTPPromoteClient(cfg.URL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

type promotedPathsResponse struct {
	Paths []string `json:"paths"`
}

func (c *HTTPPromoteClient) PromotedPaths(ctx context.Context, trackingID string) (map[string]struct{}, error) {
	reqURL := c.baseURL + "/api/promote/tracking/" + url.PathEscape(trackingID) + "/paths"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building promoted-paths request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling promote service: %w", err)
	}
	defer drainAndClose(resp.Body)

	// An unknown session has no promotions.
	if resp.StatusCode == http.StatusNotFound {
		return map[string]struct{}{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("promote service returned %s for %s", resp.Status, reqURL)
	}

	var body promotedPathsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding promoted-paths response: %w", err)
	}

	promoted := make(map[string]struct{}, len(body.Paths))
	for _, p := range body.Paths {
		promoted[p] = struct{}{}
	}
	return promoted, nil
}

// Compile-time check that HTTPPromoteClient implements PromoteService
var _ tracking.PromoteService = (*HTTPPromoteClient)(nil)
