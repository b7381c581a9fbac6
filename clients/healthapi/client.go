// Package healthapi is the HTTP client for the source-health backend. Every
// method performs exactly one attempt; retry and backoff policy live with the
// caller so attempt outcomes can be recorded individually.
package healthapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sourcewatch/api/health"
	"sourcewatch/clients"
	"sourcewatch/logging"
	"sourcewatch/models"
)

// Client represents a source-health backend API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       logging.Logger
}

// Config represents the configuration for the health API client
type Config struct {
	BaseURL string
	Logger  logging.Logger

	// Timeout bounds request/response calls. The stream connection is opened
	// without one; its liveness is judged by the reconnector.
	Timeout time.Duration
}

// NewClient creates a new health API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   clients.NewHTTPClient(config.Timeout),
		streamClient: clients.NewStreamClient(),
		logger:       config.Logger,
	}
}

// FetchSnapshot retrieves the complete health snapshot from the poll endpoint.
func (c *Client) FetchSnapshot(ctx context.Context) (*models.HealthSnapshot, error) {
	const op = "fetch snapshot"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sources/health", nil)
	if err != nil {
		return nil, clients.Classify(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, clients.Classify(op, err)
	}
	defer resp.Body.Close()

	if !clients.IsSuccess(resp) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, clients.NewHTTPError(op, resp.StatusCode)
	}

	var snapshot health.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, clients.NewParseError(op, err)
	}
	return &snapshot, nil
}

// OpenStream connects to the server-push status stream. The returned Stream
// delivers one snapshot per event; the caller owns reconnect policy.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	const op = "open stream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sources/status/stream", nil)
	if err != nil {
		return nil, clients.Classify(op, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, clients.Classify(op, err)
	}
	if !clients.IsSuccess(resp) {
		resp.Body.Close()
		return nil, clients.NewHTTPError(op, resp.StatusCode)
	}
	return newStream(resp), nil
}

// SendCommand issues one per-source operator action POST. The source id must
// already be validated by the caller; it is path-escaped regardless.
func (c *Client) SendCommand(ctx context.Context, sourceID string, action health.CommandAction) error {
	op := fmt.Sprintf("command %s", action)

	endpoint := fmt.Sprintf("%s/sources/%s/%s", c.baseURL, url.PathEscape(sourceID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(nil))
	if err != nil {
		return clients.Classify(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clients.Classify(op, err)
	}
	defer resp.Body.Close()

	if !clients.IsSuccess(resp) {
		var body health.CommandResponse
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); decodeErr == nil && body.Error != "" {
			if c.logger != nil {
				c.logger.WithFields(logging.Fields{
					"source_id": sourceID,
					"action":    string(action),
					"status":    resp.StatusCode,
					"detail":    body.Error,
				}).Warn("Command rejected by backend")
			}
		}
		return clients.NewHTTPError(op, resp.StatusCode)
	}
	return nil
}
