package conductor

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("conductor: no store configured")
	ErrStoreClosed     = errors.New("conductor: store closed")
	ErrMigrationFailed = errors.New("conductor: migration failed")

	// Not found errors.
	ErrTaskNotFound     = errors.New("conductor: task not found")
	ErrWorkflowNotFound = errors.New("conductor: workflow not found")
	ErrWorkerNotFound   = errors.New("conductor: worker not found")
	ErrStepNotFound     = errors.New("conductor: step not found")

	// Definition errors.
	ErrInvalidDefinition = errors.New("conductor: invalid workflow definition")
	ErrUnknownTask       = errors.New("conductor: unknown task")
	ErrUnknownDefinition = errors.New("conductor: unknown workflow definition")

	// Conflict errors.
	ErrTaskAlreadyExists     = errors.New("conductor: task already exists")
	ErrWorkflowAlreadyExists = errors.New("conductor: workflow already exists")
	ErrConflict              = errors.New("conductor: concurrent modification")

	// State errors.
	ErrInvalidState       = errors.New("conductor: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("conductor: max retries exceeded")
	ErrChainContract      = errors.New("conductor: chaining contract violated")
	ErrInvalidPurge       = errors.New("conductor: invalid purge request")

	// Cluster errors.
	ErrLeadershipLost = errors.New("conductor: leadership lost")
	ErrNotLeader      = errors.New("conductor: not the leader")
)

// DefinitionError reports why a workflow definition was rejected.
type DefinitionError struct {
	Definition string
	Step       string
	Reason     string
}

func (e *DefinitionError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("conductor: definition %q step %q: %s", e.Definition, e.Step, e.Reason)
	}
	return fmt.Sprintf("conductor: definition %q: %s", e.Definition, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidDefinition.
func (e *DefinitionError) Unwrap() error { return ErrInvalidDefinition }

// ChainError is returned when a step body's result cannot seed the next
// step: the result tuple is empty or its first element is not usable as
// the primary identifier.
type ChainError struct {
	TaskID string
	Step   string
	Reason string
}

func (e *ChainError) Error() string {
	if e.Step == "" {
		return "conductor: chaining contract violated: " + e.Reason
	}
	return fmt.Sprintf("conductor: step %q (task %s): chaining contract violated: %s", e.Step, e.TaskID, e.Reason)
}

// Unwrap lets errors.Is match ErrChainContract.
func (e *ChainError) Unwrap() error { return ErrChainContract }
