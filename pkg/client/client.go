// Package client talks to a running promptshelf worker over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/promptshelf/internal/config"
	"github.com/thebtf/promptshelf/pkg/models"
)

// HealthTimeout bounds the liveness probe so callers can fall back quickly.
const HealthTimeout = 500 * time.Millisecond

// Client is a worker API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the worker at baseURL, e.g. "http://127.0.0.1:37790".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Local creates a client for the worker on localhost at the configured port.
func Local() *Client {
	return New("http://127.0.0.1:" + strconv.Itoa(config.GetWorkerPort()))
}

// IsRunning reports whether the worker answers its health check and is ready.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	var health struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return false
	}
	return health.Status == "ready"
}

// Version returns the worker version, or "" when it cannot be determined.
func (c *Client) Version(ctx context.Context) string {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &v); err != nil {
		return ""
	}
	return v.Version
}

// Optimize asks the worker to optimize text. The worker prefers the remote
// model when an API key is configured.
func (c *Client) Optimize(ctx context.Context, text string, category models.Category) (models.OptimizationResult, error) {
	req := map[string]interface{}{"text": text}
	if category != "" {
		req["category"] = category
	}
	var resp struct {
		Result models.OptimizationResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &resp); err != nil {
		return models.OptimizationResult{}, err
	}
	return resp.Result, nil
}

// Templates lists the stored templates, optionally filtered by a query.
func (c *Client) Templates(ctx context.Context, query string) ([]models.Template, error) {
	path := "/api/templates"
	if query != "" {
		path += "?sort=relevance&q=" + url.QueryEscape(query)
	}
	var resp struct {
		Templates []models.Template `json:"templates"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// APIError is a failure reported by the worker.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("worker returned %d: %s", e.Status, e.Message)
}

// ErrNotFound matches APIErrors with status 404.
var ErrNotFound = errors.New("not found")

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &failure)
		if failure.Error == "" {
			failure.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: failure.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode worker response: %w", err)
	}
	return nil
}
