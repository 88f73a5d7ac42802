package workflow

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// ListOpts controls pagination and filtering for instance listings.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// OwnerTag filters by owner. Empty means all owners.
	OwnerTag string
	// DefinitionName filters by definition. Empty means all definitions.
	DefinitionName string
}

// StaleQuery selects purge candidates.
type StaleQuery struct {
	OwnerTag        string
	DefinitionNames []string
	// CreatedBefore excludes instances created at or after this instant.
	CreatedBefore time.Time
	// Exclude lists instances the owner still knows about.
	Exclude []id.WorkflowID
	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for workflow instances.
type Store interface {
	// InsertWorkflow persists a new instance.
	InsertWorkflow(ctx context.Context, inst *Instance) error

	// GetWorkflow retrieves an instance by ID. It returns
	// conductor.ErrWorkflowNotFound if absent.
	GetWorkflow(ctx context.Context, wfID id.WorkflowID) (*Instance, error)

	// UpdateWorkflow replaces an instance if the stored revision equals
	// inst.Revision, then increments inst.Revision. A mismatch returns
	// conductor.ErrConflict and leaves the store unchanged.
	UpdateWorkflow(ctx context.Context, inst *Instance) error

	// DeleteWorkflows removes the given instances and returns how many
	// existed.
	DeleteWorkflows(ctx context.Context, wfIDs []id.WorkflowID) (int64, error)

	// ListWorkflows returns instances, newest first.
	ListWorkflows(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// FindStaleWorkflows returns instances matching the query, oldest
	// first.
	FindStaleWorkflows(ctx context.Context, q StaleQuery) ([]*Instance, error)
}
