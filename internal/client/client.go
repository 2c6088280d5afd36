package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
)

// Client is an HTTP client for the flagcore API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateParams describes a flag to create.
type CreateParams struct {
	Name    string `json:"name"`
	Env     string `json:"env"`
	Enabled *bool  `json:"enabled,omitempty"`
	Rollout *int   `json:"rollout,omitempty"`
}

// UpdateParams describes a partial update. ExpectedVersion, when non-nil,
// is sent as If-Match so the server rejects the write if the flag moved.
type UpdateParams struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Rollout         *int   `json:"rollout,omitempty"`
	ExpectedVersion *int64 `json:"-"`
}

// CreateFlag creates a new flag. The server refuses if it already exists.
func (c *Client) CreateFlag(ctx context.Context, params CreateParams) (*flag.Record, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/flags", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var rec flag.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

// GetFlag retrieves a single flag by name and environment
func (c *Client) GetFlag(ctx context.Context, name, env string) (*flag.Record, error) {
	u := c.flagURL(name, env)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var rec flag.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

// ListFlags retrieves all flags, optionally filtered by environment
func (c *Client) ListFlags(ctx context.Context, env string) ([]flag.Record, error) {
	u, err := url.Parse(c.BaseURL + "/v1/flags")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if env != "" {
		q := u.Query()
		q.Set("env", env)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result struct {
		Flags []flag.Record `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Flags, nil
}

// UpdateFlag patches an existing flag
func (c *Client) UpdateFlag(ctx context.Context, name, env string, params UpdateParams) (*flag.Record, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PATCH", c.flagURL(name, env), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if params.ExpectedVersion != nil {
		req.Header.Set("If-Match", strconv.FormatInt(*params.ExpectedVersion, 10))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var rec flag.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rec, nil
}

// DeleteFlag deletes a flag
func (c *Client) DeleteFlag(ctx context.Context, name, env string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.flagURL(name, env), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// Evaluate asks the server for a decision on a flag for a bucketing key
func (c *Client) Evaluate(ctx context.Context, name, env, bucketingKey string) (*evaluation.Decision, error) {
	body, err := json.Marshal(map[string]string{
		"name":         name,
		"env":          env,
		"bucketingKey": bucketingKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var d evaluation.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &d, nil
}

func (c *Client) flagURL(name, env string) string {
	u, err := url.Parse(c.BaseURL + "/v1/flags/" + url.PathEscape(name))
	if err != nil {
		return c.BaseURL + "/v1/flags/" + url.PathEscape(name)
	}
	q := u.Query()
	q.Set("env", env)
	u.RawQuery = q.Encode()
	return u.String()
}

func apiError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
}
