// Package client provides a Go client for a remote conductor over its
// HTTP API.
//
// Usage:
//
//	c := client.New("https://conductor.internal",
//	    client.WithToken("..."),
//	)
//
//	// Create and start a workflow.
//	res, err := c.CreateWorkflow(ctx, client.CreateWorkflowRequest{
//	    Definition:  "ingest",
//	    InitialArgs: []any{"ds-1"},
//	    OwnerTag:    "app-1",
//	    Start:       true,
//	})
//
//	// Poll its aggregate status.
//	status, err := c.Status(ctx, res.Workflow.ID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/conductor"
)

// Client talks to a conductor HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// APIError is a non-success response. It unwraps to the matching
// conductor sentinels for 404 and 409 responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("conductor/client: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes to conductor errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return errNotFound
	case http.StatusConflict:
		return errConflict
	default:
		return nil
	}
}

var (
	errNotFound = errors.Join(conductor.ErrWorkflowNotFound, conductor.ErrTaskNotFound)
	errConflict = errors.Join(conductor.ErrConflict, conductor.ErrInvalidState)
)

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a JSON request and decodes a JSON response into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("conductor/client: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("conductor/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("conductor/client: %s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		c.logger.Debug("conductor request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", res.StatusCode),
		)
		return &APIError{StatusCode: res.StatusCode, Message: e.Error}
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("conductor/client: decode response: %w", err)
	}
	return nil
}
