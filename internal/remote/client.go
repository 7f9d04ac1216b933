// Package remote provides the HTTP client for the remote authority's
// entity write endpoints, the connectivity probe, the priority rule
// source, and the off-device audit sink.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
)

// Config holds remote authority connection configuration.
type Config struct {
	BaseURL        string
	ProbePath      string
	RequestTimeout time.Duration
}

// Client talks to the remote authority. One conceptual endpoint exists
// per item type, accepting insert/replace/remove operations.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new remote Client.
func NewClient(config *Config) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// endpointPath maps an item type onto its collection path.
func endpointPath(itemType models.ItemType) string {
	switch itemType {
	case models.ItemTypeAssessment:
		return "/assessments"
	case models.ItemTypeResponse:
		return "/responses"
	case models.ItemTypeMedia:
		return "/media"
	case models.ItemTypeIncident:
		return "/incidents"
	default:
		return "/entities"
	}
}

// Insert creates a new remote entity. requestID carries the originating
// local id so the remote authority can deduplicate repeated attempts.
func (c *Client) Insert(ctx context.Context, itemType models.ItemType, payload json.RawMessage, requestID string) error {
	return c.dispatch(ctx, http.MethodPost, endpointPath(itemType), payload, requestID)
}

// Replace overwrites an existing remote entity.
func (c *Client) Replace(ctx context.Context, itemType models.ItemType, entityID string, payload json.RawMessage, requestID string) error {
	return c.dispatch(ctx, http.MethodPut, endpointPath(itemType)+"/"+entityID, payload, requestID)
}

// Remove deletes a remote entity.
func (c *Client) Remove(ctx context.Context, itemType models.ItemType, entityID string, requestID string) error {
	return c.dispatch(ctx, http.MethodDelete, endpointPath(itemType)+"/"+entityID, nil, requestID)
}

func (c *Client) dispatch(ctx context.Context, method, path string, payload json.RawMessage, requestID string) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.CategorizeTransport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	return apperrors.CategorizeTransport(resp.StatusCode, nil)
}

// ProbeResult is the outcome of an active connectivity test.
type ProbeResult struct {
	Success        bool
	ResponseTimeMs int64
	EstimatedMbps  *float64
}

// Probe performs an active connectivity test against the lightweight
// probe endpoint. The endpoint returns quickly with no side effects.
func (c *Client) Probe(ctx context.Context) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+c.config.ProbePath, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build probe request", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProbeResult{Success: false}, nil
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)

	result := &ProbeResult{
		Success:        resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseTimeMs: elapsed.Milliseconds(),
	}

	// A rough downlink estimate from the probe body, when it carried
	// enough bytes to be meaningful.
	if result.Success && n > 0 && elapsed > 0 {
		mbps := float64(n*8) / elapsed.Seconds() / 1e6
		result.EstimatedMbps = &mbps
	}

	return result, nil
}

// statusError is a convenience for rule CRUD responses.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := apperrors.CategorizeTransport(resp.StatusCode, nil)
	if len(body) > 0 {
		return fmt.Errorf("%w: %s", err, string(body))
	}
	return err
}
