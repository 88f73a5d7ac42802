package api

import (
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/workflow"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListDefinitionsResponse lists the catalog.
type ListDefinitionsResponse struct {
	Names []string `json:"names"`
}

// ListWorkflowsRequest filters GET /v1/workflows.
type ListWorkflowsRequest struct {
	OwnerTag   string `query:"owner_tag"`
	Definition string `query:"definition"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// CreateWorkflowRequest is the body of POST /v1/workflows.
type CreateWorkflowRequest struct {
	Definition  string `json:"definition"`
	InitialArgs []any  `json:"initial_args,omitempty"`
	OwnerTag    string `json:"owner_tag"`
	// Start submits the first step right after creation.
	Start bool `json:"start,omitempty"`
	// StartArgs replaces InitialArgs for the first submission.
	StartArgs []any `json:"start_args,omitempty"`
}

// CreateWorkflowResponse is the created instance and, when started, the
// first step's task.
type CreateWorkflowResponse struct {
	Workflow *workflow.Instance `json:"workflow"`
	TaskID   id.TaskID          `json:"task_id,omitzero"`
}

// StartWorkflowRequest is the body of POST /v1/workflows/:id/start.
type StartWorkflowRequest struct {
	Args []any `json:"args,omitempty"`
}

// StartWorkflowResponse names the submitted task.
type StartWorkflowResponse struct {
	TaskID id.TaskID `json:"task_id"`
}

// ResumeWorkflowRequest is the optional body of
// POST /v1/workflows/:id/resume.
type ResumeWorkflowRequest struct {
	Args []any `json:"args,omitempty"`
}

// StatusResponse is the aggregate status of an instance.
type StatusResponse struct {
	WorkflowID id.WorkflowID `json:"workflow_id"`
	Status     string        `json:"status"`
}

// TaskCountsResponse counts ledger records per status.
type TaskCountsResponse map[string]int64

// PurgeRequest is the body of POST /v1/purge. OlderThan is a Go duration
// string such as "24h".
type PurgeRequest struct {
	OwnerTag        string   `json:"owner_tag"`
	DefinitionNames []string `json:"definition_names,omitempty"`
	OlderThan       string   `json:"older_than,omitempty"`
	MaxPurgeCount   int      `json:"max_purge_count"`
}

// StatsResponse summarises this deployment.
type StatsResponse struct {
	Tasks     TaskCountsResponse `json:"tasks"`
	Workers   int                `json:"workers"`
	Leader    string             `json:"leader,omitempty"`
	Schedules []ScheduleInfo     `json:"schedules"`
}

// ScheduleInfo describes one scheduled entry.
type ScheduleInfo struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	LastError string `json:"last_error,omitempty"`
	NextRunAt string `json:"next_run_at"`
}

func defaultLimit(n int) int {
	if n <= 0 || n > 500 {
		return 50
	}
	return n
}
