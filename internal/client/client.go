// Package client talks to a running issues API server.
package client

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

	"github.com/joescharf/issues/internal/models"
)

// APIError is a logical error reported in a response payload.
type APIError struct {
	Message string
	ID      string
}

func (e *APIError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s (_id %s)", e.Message, e.ID)
	}
	return e.Message
}

// Client is a thin JSON client for /api/issues/{project}.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateRequest holds the fields for opening an issue.
type CreateRequest struct {
	Title      string `json:"issue_title"`
	Text       string `json:"issue_text"`
	CreatedBy  string `json:"created_by"`
	AssignedTo string `json:"assigned_to,omitempty"`
	StatusText string `json:"status_text,omitempty"`
}

type payload struct {
	Result string `json:"result"`
	Error  string `json:"error"`
	ID     string `json:"_id"`
}

func (c *Client) issuesURL(project string) string {
	return c.baseURL + "/api/issues/" + url.PathEscape(project)
}

// List returns the project's issues matching filters.
func (c *Client) List(ctx context.Context, project string, filters url.Values) ([]models.Issue, error) {
	u := c.issuesURL(project)
	if len(filters) > 0 {
		u += "?" + filters.Encode()
	}
	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var issues []models.Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, checkPayload(data, fmt.Errorf("decode issues: %w", err))
	}
	return issues, nil
}

// Create opens a new issue in project.
func (c *Client) Create(ctx context.Context, project string, req CreateRequest) (*models.Issue, error) {
	data, err := c.do(ctx, http.MethodPost, c.issuesURL(project), req)
	if err != nil {
		return nil, err
	}
	if err := checkPayload(data, nil); err != nil {
		return nil, err
	}
	var issue models.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	return &issue, nil
}

// Update overwrites the given fields of issue id.
func (c *Client) Update(ctx context.Context, project, id string, fields map[string]any) error {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body[models.FieldID] = id
	data, err := c.do(ctx, http.MethodPut, c.issuesURL(project), body)
	if err != nil {
		return err
	}
	return checkPayload(data, nil)
}

// Delete removes issue id from project.
func (c *Client) Delete(ctx context.Context, project, id string) error {
	data, err := c.do(ctx, http.MethodDelete, c.issuesURL(project), map[string]string{models.FieldID: id})
	if err != nil {
		return err
	}
	return checkPayload(data, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, checkPayload(data, fmt.Errorf("%s %s: unexpected status %d", method, u, resp.StatusCode))
	}
	return data, nil
}

// checkPayload returns an *APIError if data carries an error key, else fallback.
func checkPayload(data []byte, fallback error) error {
	var p payload
	if err := json.Unmarshal(data, &p); err == nil && p.Error != "" {
		return &APIError{Message: p.Error, ID: p.ID}
	}
	return fallback
}
