// Package main implements the chargectl operator CLI.
//
// This file contains the HTTP client for the controller's operator API.
// It fetches tick snapshots, reads and updates runtime settings, and
// issues manual charge overrides.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
)

// Client talks to a running controller's operator API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the controller at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Status fetches the latest tick snapshot. stale reports whether the
// controller flagged it as older than its staleness cutoff.
func (c *Client) Status(ctx context.Context) (storage.Snapshot, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/current", nil)
	if err != nil {
		return storage.Snapshot{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return storage.Snapshot{}, false, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.Snapshot{}, false, apiError(resp)
	}

	var snapshot storage.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return storage.Snapshot{}, false, fmt.Errorf("decode status: %w", err)
	}

	stale := resp.Header.Get("X-Voltloop-Stale") == "true"
	return snapshot, stale, nil
}

// Config fetches the controller's current runtime settings.
func (c *Client) Config(ctx context.Context) (settings.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return settings.Values{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return settings.Values{}, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return settings.Values{}, apiError(resp)
	}

	var values settings.Values
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return settings.Values{}, fmt.Errorf("decode config: %w", err)
	}
	return values, nil
}

// UpdateConfig applies a partial settings update and returns the
// resulting settings.
func (c *Client) UpdateConfig(ctx context.Context, update settings.Update) (settings.Values, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return settings.Values{}, fmt.Errorf("marshal update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/config", bytes.NewReader(payload))
	if err != nil {
		return settings.Values{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return settings.Values{}, fmt.Errorf("update config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return settings.Values{}, apiError(resp)
	}

	var values settings.Values
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return settings.Values{}, fmt.Errorf("decode config: %w", err)
	}
	return values, nil
}

// ForceCharge issues a manual start or stop override.
func (c *Client) ForceCharge(ctx context.Context, start bool) error {
	path := "/charge/stop"
	if start {
		path = "/charge/start"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// apiError turns a non-200 operator API response into an error,
// surfacing the server's {"error": ...} message when present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("controller returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("controller returned %d", resp.StatusCode)
}
