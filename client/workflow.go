package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// CreateWorkflowRequest creates an instance of a catalog definition.
type CreateWorkflowRequest struct {
	Definition  string `json:"definition"`
	InitialArgs []any  `json:"initial_args,omitempty"`
	OwnerTag    string `json:"owner_tag"`
	Start       bool   `json:"start,omitempty"`
	StartArgs   []any  `json:"start_args,omitempty"`
}

// CreateWorkflowResult is the created instance and, when started, the
// first step's task.
type CreateWorkflowResult struct {
	Workflow *workflow.Instance `json:"workflow"`
	TaskID   id.TaskID          `json:"task_id,omitzero"`
}

// GetOpts selects which ledger records Get includes.
type GetOpts struct {
	LastTaskRun  bool
	PrevTaskRuns bool
}

// CreateWorkflow creates, and optionally starts, a workflow.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*CreateWorkflowResult, error) {
	var res CreateWorkflowResult
	if err := c.do(ctx, http.MethodPost, "/v1/workflows", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartWorkflow submits the first step of a created workflow.
func (c *Client) StartWorkflow(ctx context.Context, wfID id.WorkflowID, args ...any) (id.TaskID, error) {
	var res struct {
		TaskID id.TaskID `json:"task_id"`
	}
	body := struct {
		Args []any `json:"args,omitempty"`
	}{Args: args}
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+wfID.String()+"/start", body, &res); err != nil {
		return id.Nil, err
	}
	return res.TaskID, nil
}

// GetWorkflow returns the read-model of a workflow.
func (c *Client) GetWorkflow(ctx context.Context, wfID id.WorkflowID, opts GetOpts) (*workflow.EmbellishedWorkflow, error) {
	q := url.Values{}
	if opts.LastTaskRun {
		q.Set("last_task_run", "true")
	}
	if opts.PrevTaskRuns {
		q.Set("prev_task_runs", "true")
	}
	path := "/v1/workflows/" + wfID.String()
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var view workflow.EmbellishedWorkflow
	if err := c.do(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Status returns the aggregate status of a workflow.
func (c *Client) Status(ctx context.Context, wfID id.WorkflowID) (task.Status, error) {
	var res struct {
		Status task.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/workflows/"+wfID.String()+"/status", nil, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}

// Pause revokes the pending step of a workflow.
func (c *Client) Pause(ctx context.Context, wfID id.WorkflowID) (*workflow.PauseResult, error) {
	var res workflow.PauseResult
	if err := c.do(ctx, http.MethodPost, "/v1/workflows/"+wfID.String()+"/pause", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Resume resubmits the pending step of a workflow. Args, when non-nil,
// replace the arguments of the latest run.
func (c *Client) Resume(ctx context.Context, wfID id.WorkflowID, force bool, args []any) (*workflow.ResumeResult, error) {
	path := "/v1/workflows/" + wfID.String() + "/resume?force=" + strconv.FormatBool(force)
	var body any
	if args != nil {
		body = struct {
			Args []any `json:"args"`
		}{Args: args}
	}

	var res workflow.ResumeResult
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteWorkflow removes a workflow and the ledger records of its runs.
func (c *Client) DeleteWorkflow(ctx context.Context, wfID id.WorkflowID) error {
	return c.do(ctx, http.MethodDelete, "/v1/workflows/"+wfID.String(), nil, nil)
}

// Task returns a ledger record.
func (c *Client) Task(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var t task.Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID.String(), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Purge deletes orphaned workflows of an owner.
func (c *Client) Purge(ctx context.Context, req workflow.PurgeRequest) (*workflow.PurgeReport, error) {
	body := struct {
		OwnerTag        string   `json:"owner_tag"`
		DefinitionNames []string `json:"definition_names,omitempty"`
		OlderThan       string   `json:"older_than,omitempty"`
		MaxPurgeCount   int      `json:"max_purge_count"`
	}{
		OwnerTag:        req.OwnerTag,
		DefinitionNames: req.DefinitionNames,
		MaxPurgeCount:   req.MaxPurgeCount,
	}
	if req.OlderThan > 0 {
		body.OlderThan = req.OlderThan.String()
	}

	var report workflow.PurgeReport
	if err := c.do(ctx, http.MethodPost, "/v1/purge", body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
