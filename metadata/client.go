package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

// Compile-time interface check.
var _ workflow.LiveSource = (*Client)(nil)

// ErrNotFound is returned when the system of record does not know the
// requested resource.
var ErrNotFound = errors.New("metadata: not found")

// LockState says whether a dataset accepts writes.
type LockState int

const (
	// LockUnknown means the lock could not be determined, e.g. because the
	// dataset is unknown to the system of record.
	LockUnknown LockState = iota
	// LockUnlocked means the dataset accepts writes.
	LockUnlocked
	// LockLocked means the dataset is locked for writes.
	LockLocked
)

// String implements fmt.Stringer.
func (s LockState) String() string {
	switch s {
	case LockUnlocked:
		return "unlocked"
	case LockLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Client talks to the system of record over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

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

type workflowIDsResponse struct {
	WorkflowIDs []string `json:"workflow_ids"`
}

// WorkflowIDs returns the workflow instances ownerTag still records. An
// unparsable id fails the call, so a purge never runs on a partial live
// set.
func (c *Client) WorkflowIDs(ctx context.Context, ownerTag string) ([]id.WorkflowID, error) {
	var resp workflowIDsResponse
	path := "/owners/" + url.PathEscape(ownerTag) + "/workflows"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	ids := make([]id.WorkflowID, 0, len(resp.WorkflowIDs))
	for _, s := range resp.WorkflowIDs {
		wfID, err := id.ParseWorkflowID(s)
		if err != nil {
			return nil, fmt.Errorf("metadata: owner %q lists invalid workflow id %q: %w", ownerTag, s, err)
		}
		ids = append(ids, wfID)
	}
	return ids, nil
}

type lockResponse struct {
	Locked bool `json:"locked"`
}

// DatasetLock reports whether datasetID is locked for writes. An unknown
// dataset is LockUnknown without an error; transport and server failures
// are LockUnknown with the error.
func (c *Client) DatasetLock(ctx context.Context, datasetID string) (LockState, error) {
	var resp lockResponse
	err := c.get(ctx, "/datasets/"+url.PathEscape(datasetID)+"/lock", &resp)
	switch {
	case errors.Is(err, ErrNotFound):
		return LockUnknown, nil
	case err != nil:
		return LockUnknown, err
	case resp.Locked:
		return LockLocked, nil
	default:
		return LockUnlocked, nil
	}
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("metadata: GET %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case res.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		c.logger.Warn("metadata request failed",
			slog.String("path", path),
			slog.Int("status", res.StatusCode),
		)
		return fmt.Errorf("metadata: GET %s: status %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("metadata: decode %s: %w", path, err)
	}
	return nil
}
