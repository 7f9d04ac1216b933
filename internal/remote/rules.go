package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/relieflab/fieldsync/internal/errors"
	"github.com/relieflab/fieldsync/internal/models"
)

// ListRules fetches all priority rules from the rule source.
func (c *Client) ListRules(ctx context.Context) ([]models.PriorityRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/priority-rules", nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build rules request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.CategorizeTransport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var rules []models.PriorityRule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to decode rules", err)
	}
	return rules, nil
}

// CreateRule creates a priority rule on the rule source.
func (c *Client) CreateRule(ctx context.Context, rule *models.PriorityRule) error {
	return c.writeRule(ctx, http.MethodPost, "/priority-rules", rule)
}

// UpdateRule replaces a priority rule on the rule source.
func (c *Client) UpdateRule(ctx context.Context, rule *models.PriorityRule) error {
	return c.writeRule(ctx, http.MethodPut, "/priority-rules/"+rule.ID, rule)
}

// DeleteRule removes a priority rule from the rule source.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.BaseURL+"/priority-rules/"+id, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build rule request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.CategorizeTransport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) writeRule(ctx context.Context, method, path string, rule *models.PriorityRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode rule", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build rule request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.CategorizeTransport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// AppendEvent ships a priority audit event to the write-only off-device
// retention endpoint.
func (c *Client) AppendEvent(ctx context.Context, event *models.PriorityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode event", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/priority-events", bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build event request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.CategorizeTransport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}
