// Package client talks to the contentship HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
)

// APIError is a non-2xx reply decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d", e.StatusCode)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += "): " + e.Message
	for field, problem := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", field, problem)
	}
	return msg
}

// IsNotFound reports whether err is a 404 reply.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// TestRequest is the body of a condition preview.
type TestRequest struct {
	rules.ConditionSet
	Context *engine.RequestContext `json:"context,omitempty"`
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ListDefinitions(ctx context.Context) ([]rules.Definition, error) {
	var out struct {
		Definitions []rules.Definition `json:"definitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/content", nil, &out); err != nil {
		return nil, err
	}
	return out.Definitions, nil
}

func (c *Client) GetDefinition(ctx context.Context, id string) (*rules.Definition, error) {
	var d rules.Definition
	if err := c.do(ctx, http.MethodGet, "/v1/content/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// PutDefinition creates or replaces d and returns the stored copy.
func (c *Client) PutDefinition(ctx context.Context, d rules.Definition) (*rules.Definition, error) {
	var saved rules.Definition
	if err := c.do(ctx, http.MethodPut, "/v1/content/"+url.PathEscape(d.ID), d, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) DeleteDefinition(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/content/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Views(ctx context.Context, id string) (map[string]int64, error) {
	var out struct {
		Views map[string]int64 `json:"views"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/content/"+url.PathEscape(id)+"/views", nil, &out); err != nil {
		return nil, err
	}
	return out.Views, nil
}

func (c *Client) TestConditions(ctx context.Context, req TestRequest) (engine.TestResult, error) {
	var res engine.TestResult
	err := c.do(ctx, http.MethodPost, "/v1/conditions/test", req, &res)
	return res, err
}

// do sends body as JSON and decodes a 2xx reply into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
