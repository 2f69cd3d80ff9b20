package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trackd/internal/config"
	"trackd/internal/model"
	"trackd/internal/tracking"
)

const defaultTimeout = 30 * time.Second

// HTTPMaintenanceClient calls the repository maintenance service to delete
// content. trackd never touches stored artifacts itself.
type HTTPMaintenanceClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMaintenanceClient creates a maintenance client for the given base
// URL.
func NewHTTPMaintenanceClient(baseURL string, timeout time.Duration) *HTTPMaintenanceClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPMaintenanceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewMaintenanceFromConfig creates a maintenance client from config. An
// empty URL disables the collaborator and returns nil.
func NewMaintenanceFromConfig(cfg config.EndpointConfig) tracking.MaintenanceService {
	if cfg.URL == "" {
		return nil
	}
	return NewHTTPMaintenanceClient(cfg.URL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

type deleteFilesRequest struct {
	StoreKey model.StoreKey `json:"storeKey"`
	Paths    []string       `json:"paths"`
}

func (c *HTTPMaintenanceClient) DeleteFiles(ctx context.Context, store model.StoreKey, paths []string) error {
	body, err := json.Marshal(deleteFilesRequest{StoreKey: store, Paths: paths})
	if err != nil {
		return fmt.Errorf("encoding delete request: %w", err)
	}

	url := c.baseURL + "/api/admin/maintenance/content/delete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling maintenance service: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("maintenance service returned %s for %s", resp.Status, url)
	}
	return nil
}

// drainAndClose discards any remaining body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

// Compile-time check that HTTPMaintenanceClient implements MaintenanceService
var _ tracking.MaintenanceService = (*HTTPMaintenanceClient)(nil)
