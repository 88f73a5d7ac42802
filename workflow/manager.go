package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
)

var (
	// errUnchanged aborts a mutation without writing.
	errUnchanged = errors.New("workflow unchanged")

	// errResubmitted reports that another caller submitted the step first.
	errResubmitted = errors.New("step was resubmitted concurrently")
)

// DefaultConflictRetries is how often a mutation reloads and re-applies
// after losing a compare-and-swap race.
const DefaultConflictRetries = 5

// Manager creates, starts and controls workflow instances.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	ledger     Ledger
	registry   StepRegistry
	emitter    Emitter
	logger     *slog.Logger

	conflictRetries int
	cache           *statusCache
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConflictRetries sets how often a run-record append is retried after
// a concurrent update.
func WithConflictRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.conflictRetries = n
		}
	}
}

// WithStatusCache keeps up to size final ledger records in memory so
// repeated status queries skip the ledger for finished steps.
func WithStatusCache(size int) ManagerOption {
	return func(m *Manager) { m.cache = newStatusCache(size) }
}

// NewManager creates a Manager. A nil registry skips the task registration
// check on Create and a nil emitter drops notifications.
func NewManager(
	store Store,
	dispatcher Dispatcher,
	ledger Ledger,
	registry StepRegistry,
	emitter Emitter,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:           store,
		dispatcher:      dispatcher,
		ledger:          ledger,
		registry:        registry,
		emitter:         emitter,
		logger:          logger,
		conflictRetries: DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates def and persists a new instance of it. Nothing is
// submitted.
func (m *Manager) Create(ctx context.Context, def *Definition, initialArgs []any, ownerTag string) (*Instance, error) {
	if def == nil {
		return nil, &conductor.DefinitionError{Reason: "definition is nil"}
	}
	if err := def.Validate(m.registry); err != nil {
		return nil, err
	}

	inst := newInstance(def, initialArgs, ownerTag)
	if err := m.store.InsertWorkflow(ctx, inst); err != nil {
		return nil, fmt.Errorf("create workflow %q: %w", def.Name, err)
	}

	m.emitter.EmitWorkflowCreated(ctx, inst)
	m.logger.Info("workflow created",
		slog.String("workflow_id", inst.ID.String()),
		slog.String("definition", inst.DefinitionName),
		slog.String("owner", inst.OwnerTag),
		slog.Int("steps", len(inst.Steps)),
	)
	return inst, nil
}

// Start submits the first step of inst with args, or with the instance's
// initial arguments when args is empty. It makes exactly one submission and
// returns its task id. Starting an instance that already has a run returns
// conductor.ErrInvalidState; use Resume instead. Of concurrent Starts on
// one instance exactly one submits.
func (m *Manager) Start(ctx context.Context, inst *Instance, args ...any) (id.TaskID, error) {
	if err := m.Refresh(ctx, inst); err != nil {
		return id.Nil, err
	}
	if len(inst.Steps) == 0 {
		return id.Nil, &conductor.DefinitionError{Definition: inst.DefinitionName, Reason: "no steps"}
	}
	if inst.Started() {
		return id.Nil, fmt.Errorf("%w: workflow %s already started", conductor.ErrInvalidState, inst.ID)
	}
	if len(args) == 0 {
		args = inst.InitialArgs
	}

	first := inst.Steps[0]
	taskID, err := m.submitStep(ctx, inst, &first, args, notStarted)
	if err != nil {
		return id.Nil, err
	}
	m.emitter.EmitWorkflowStepSubmitted(ctx, inst, first.Name, taskID)
	return taskID, nil
}

// Load fetches an instance. A missing instance returns
// conductor.ErrWorkflowNotFound.
func (m *Manager) Load(ctx context.Context, wfID id.WorkflowID) (*Instance, error) {
	return m.store.GetWorkflow(ctx, wfID)
}

// Refresh replaces inst with its stored state.
func (m *Manager) Refresh(ctx context.Context, inst *Instance) error {
	fresh, err := m.store.GetWorkflow(ctx, inst.ID)
	if err != nil {
		return err
	}
	*inst = *fresh
	return nil
}

// Delete removes an instance and the ledger records of all its runs.
func (m *Manager) Delete(ctx context.Context, wfID id.WorkflowID) error {
	inst, err := m.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return err
	}
	if _, err := m.store.DeleteWorkflows(ctx, []id.WorkflowID{wfID}); err != nil {
		return fmt.Errorf("delete workflow %s: %w", wfID, err)
	}
	taskIDs := inst.TaskIDs()
	m.cache.forget(taskIDs)
	if len(taskIDs) > 0 {
		if _, err := m.ledger.DeleteTasks(ctx, taskIDs); err != nil {
			return fmt.Errorf("delete tasks of workflow %s: %w", wfID, err)
		}
	}
	m.logger.Info("workflow deleted",
		slog.String("workflow_id", wfID.String()),
		slog.Int("tasks", len(taskIDs)),
	)
	return nil
}

// List returns stored instances.
func (m *Manager) List(ctx context.Context, opts ListOpts) ([]*Instance, error) {
	return m.store.ListWorkflows(ctx, opts)
}

// Status returns the aggregate status of an instance.
func (m *Manager) Status(ctx context.Context, wfID id.WorkflowID) (task.Status, error) {
	inst, err := m.store.GetWorkflow(ctx, wfID)
	if err != nil {
		return "", err
	}
	p, err := findPendingStep(ctx, m.ledger, m.cache, inst)
	if err != nil {
		return "", err
	}
	return projectPending(p), nil
}

// PendingStep returns the first step of inst that has not succeeded, or
// nil when the pipeline is complete.
func (m *Manager) PendingStep(ctx context.Context, inst *Instance) (*PendingStep, error) {
	return findPendingStep(ctx, m.ledger, m.cache, inst)
}

// submitStep reserves a run record for a fresh task id on the named step,
// then submits the task under that id. guard sees the freshly loaded
// instance inside the compare-and-swap and may refuse the reservation, so
// concurrent callers cannot both submit. A failed submission removes the
// reserved record again.
func (m *Manager) submitStep(ctx context.Context, inst *Instance, s *Step, args []any, guard func(*Instance) error) (id.TaskID, error) {
	stepName, taskName, queue := s.Name, s.Task, s.Queue
	taskID := id.NewTaskID()

	updated, err := m.mutate(ctx, inst.ID, func(cur *Instance) error {
		if guard != nil {
			if err := guard(cur); err != nil {
				return err
			}
		}
		cs := cur.Step(stepName)
		if cs == nil {
			return fmt.Errorf("%w: %q in workflow %s", conductor.ErrStepNotFound, stepName, cur.ID)
		}
		cs.recordRun(taskID, time.Now().UTC())
		return nil
	})
	if err != nil {
		return id.Nil, fmt.Errorf("reserve step %q of workflow %s: %w", stepName, inst.ID, err)
	}
	*inst = *updated

	_, err = m.dispatcher.Submit(ctx, taskName, args, task.StepKwargs(inst.ID, stepName),
		task.WithID(taskID),
		task.WithQueue(queue),
		task.WithOwner(inst.OwnerTag),
	)
	if err != nil {
		m.dropRun(ctx, inst, stepName, taskID)
		return id.Nil, fmt.Errorf("submit step %q of workflow %s: %w", stepName, inst.ID, err)
	}

	m.logger.Debug("workflow step submitted",
		slog.String("workflow_id", inst.ID.String()),
		slog.String("step", stepName),
		slog.String("task_id", taskID.String()),
	)
	return taskID, nil
}

// dropRun removes a reserved run whose submission failed.
func (m *Manager) dropRun(ctx context.Context, inst *Instance, step string, taskID id.TaskID) {
	updated, err := m.mutate(context.WithoutCancel(ctx), inst.ID, func(cur *Instance) error {
		s := cur.Step(step)
		if s == nil || !s.dropRun(taskID) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("failed to drop run of unsubmitted task",
			slog.String("workflow_id", inst.ID.String()),
			slog.String("step", step),
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	*inst = *updated
}

// notStarted refuses a reservation on an instance that already has a run.
func notStarted(cur *Instance) error {
	if cur.Started() {
		return fmt.Errorf("%w: workflow %s already started", conductor.ErrInvalidState, cur.ID)
	}
	return nil
}

// latestRunIs refuses a reservation when step gained a run after the
// caller saw observed as its latest (id.Nil for none).
func latestRunIs(step string, observed id.TaskID) func(*Instance) error {
	return func(cur *Instance) error {
		var latest id.TaskID
		if s := cur.Step(step); s != nil {
			if r := s.LatestRun(); r != nil {
				latest = r.TaskID
			}
		}
		if latest != observed {
			return fmt.Errorf("%w: step %q of workflow %s: %w", conductor.ErrInvalidState, step, cur.ID, errResubmitted)
		}
		return nil
	}
}

// recordRun adds a run record for taskID to the named step, or moves an
// existing record's start forward.
func (m *Manager) recordRun(ctx context.Context, wfID id.WorkflowID, step string, taskID id.TaskID, start time.Time) (*Instance, error) {
	return m.mutate(ctx, wfID, func(inst *Instance) error {
		s := inst.Step(step)
		if s == nil {
			return fmt.Errorf("%w: %q in workflow %s", conductor.ErrStepNotFound, step, wfID)
		}
		if !s.recordRun(taskID, start) {
			return errUnchanged
		}
		return nil
	})
}

// mutate loads the instance, applies fn and writes it back with
// compare-and-swap. On conflict it reloads and re-applies fn, up to the
// configured number of retries. fn returning errUnchanged skips the write.
func (m *Manager) mutate(ctx context.Context, wfID id.WorkflowID, fn func(*Instance) error) (*Instance, error) {
	for attempt := 0; ; attempt++ {
		inst, err := m.store.GetWorkflow(ctx, wfID)
		if err != nil {
			return nil, err
		}
		if err := fn(inst); err != nil {
			if errors.Is(err, errUnchanged) {
				return inst, nil
			}
			return nil, err
		}
		inst.Touch()

		err = m.store.UpdateWorkflow(ctx, inst)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, conductor.ErrConflict) || attempt >= m.conflictRetries {
			return nil, err
		}
		m.logger.Debug("workflow update conflict, retrying",
			slog.String("workflow_id", wfID.String()),
			slog.Int("attempt", attempt+1),
		)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
