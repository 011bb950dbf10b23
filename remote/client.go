// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote is the HTTP/JSON client for the system of record, plus the
// wire models and device token helpers shared with the server side.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response is kept in APIError
const maxErrorBody = 4 << 10

// Client talks to the system of record over HTTP
type Client struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for baseURL. tok may be nil for unauthenticated
// deployments.
func NewClient(baseURL string, tok func(ctx context.Context) (string, error), logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}, nil
}

// InsertReport creates a report and returns the server-assigned id. Sending
// the same ClientRef again returns the original id.
func (c *Client) InsertReport(ctx context.Context, report ReportPayload) (string, error) {
	if report.ClientRef == "" {
		return "", fmt.Errorf("client_ref is required")
	}
	var resp InsertReportResponse
	if err := c.do(ctx, http.MethodPost, "/v1/reports", report, &resp); err != nil {
		return "", err
	}
	if resp.Duplicate {
		c.logger.Debug("Report already known to remote", "client_ref", report.ClientRef, "id", resp.ID)
	}
	return resp.ID, nil
}

// UpdateEntity applies a partial update to the entity kind/id
func (c *Client) UpdateEntity(ctx context.Context, kind, id string, fields map[string]any) error {
	if kind == "" || id == "" {
		return fmt.Errorf("entity kind and id are required")
	}
	path := "/v1/entities/" + url.PathEscape(kind) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodPatch, path, UpdateEntityRequest{Fields: fields}, nil)
}

// ListBroadcasts returns up to limit broadcasts, newest first
func (c *Client) ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	path := "/v1/broadcasts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp BroadcastListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Broadcasts, nil
}

// FetchAgentByID returns the agent profile, or nil when the agent does not exist
func (c *Client) FetchAgentByID(ctx context.Context, id string) (*Agent, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	var agent Agent
	err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(id), nil, &agent)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Health checks GET /health and returns an error unless the server is healthy
func (c *Client) Health(ctx context.Context) error {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("remote reported status %q", resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Remote call", "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(method, path, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
		apiErr.Code = errResp.Error
		apiErr.Message = errResp.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
