package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// PurgeRequest selects orphaned instances for deletion.
type PurgeRequest struct {
	// OwnerTag restricts the purge to one owning application.
	OwnerTag string `json:"owner_tag"`
	// DefinitionNames restricts the purge to instances of these
	// definitions. Empty means all definitions.
	DefinitionNames []string `json:"definition_names,omitempty"`
	// OlderThan spares instances younger than this age, which the owner
	// may not have recorded yet.
	OlderThan time.Duration `json:"older_than"`
	// MaxPurgeCount caps how many instances one call deletes.
	MaxPurgeCount int `json:"max_purge_count"`
}

// PurgeReport describes what a purge deleted.
type PurgeReport struct {
	OwnerTag     string          `json:"owner_tag"`
	Candidates   int             `json:"candidates"`
	Deleted      int64           `json:"deleted"`
	TasksDeleted int64           `json:"tasks_deleted"`
	Truncated    bool            `json:"truncated"`
	IDs          []id.WorkflowID `json:"ids"`
}

// Purger deletes instances their owner no longer tracks, together with the
// ledger records of their runs.
type Purger struct {
	store   Store
	ledger  Ledger
	live    LiveSource
	emitter Emitter
	logger  *slog.Logger
	cache   *statusCache
	now     func() time.Time
}

// NewPurger creates a Purger. A nil emitter drops notifications.
func NewPurger(store Store, ledger Ledger, live LiveSource, emitter Emitter, logger *slog.Logger) *Purger {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		store:   store,
		ledger:  ledger,
		live:    live,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
}

// Purger returns a Purger sharing m's store, ledger and status cache.
func (m *Manager) Purger(live LiveSource) *Purger {
	p := NewPurger(m.store, m.ledger, live, m.emitter, m.logger)
	p.cache = m.cache
	return p
}

// Purge deletes instances of req.OwnerTag that are older than
// req.OlderThan and absent from the owner's live set, at most
// req.MaxPurgeCount of them. Failing to read the live set aborts the purge
// without deleting anything.
func (p *Purger) Purge(ctx context.Context, req PurgeRequest) (*PurgeReport, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if p.live == nil {
		return nil, fmt.Errorf("%w: no live source configured", conductor.ErrInvalidPurge)
	}

	live, err := p.live.WorkflowIDs(ctx, req.OwnerTag)
	if err != nil {
		return nil, fmt.Errorf("purge: list live workflows of %q: %w", req.OwnerTag, err)
	}

	found, err := p.store.FindStaleWorkflows(ctx, StaleQuery{
		OwnerTag:        req.OwnerTag,
		DefinitionNames: req.DefinitionNames,
		CreatedBefore:   p.now().UTC().Add(-req.OlderThan),
		Exclude:         live,
		Limit:           req.MaxPurgeCount + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("purge: find stale workflows: %w", err)
	}

	report := &PurgeReport{OwnerTag: req.OwnerTag, IDs: []id.WorkflowID{}}
	if len(found) > req.MaxPurgeCount {
		report.Truncated = true
		found = found[:req.MaxPurgeCount]
		p.logger.Warn("purge truncated",
			slog.String("owner", req.OwnerTag),
			slog.Int("max_purge_count", req.MaxPurgeCount),
		)
	}
	report.Candidates = len(found)
	if len(found) == 0 {
		return report, nil
	}

	var taskIDs []id.TaskID
	for _, inst := range found {
		report.IDs = append(report.IDs, inst.ID)
		taskIDs = append(taskIDs, inst.TaskIDs()...)
	}

	report.Deleted, err = p.store.DeleteWorkflows(ctx, report.IDs)
	if err != nil {
		return report, fmt.Errorf("purge: delete workflows: %w", err)
	}
	p.cache.forget(taskIDs)
	if len(taskIDs) > 0 {
		report.TasksDeleted, err = p.ledger.DeleteTasks(ctx, taskIDs)
		if err != nil {
			return report, fmt.Errorf("purge: delete tasks: %w", err)
		}
	}

	p.emitter.EmitWorkflowsPurged(ctx, report)
	p.logger.Info("orphaned workflows purged",
		slog.String("owner", req.OwnerTag),
		slog.Int64("workflows", report.Deleted),
		slog.Int64("tasks", report.TasksDeleted),
		slog.Bool("truncated", report.Truncated),
	)
	return report, nil
}

func (r PurgeRequest) validate() error {
	switch {
	case r.OwnerTag == "":
		return fmt.Errorf("%w: owner tag is required", conductor.ErrInvalidPurge)
	case r.MaxPurgeCount <= 0:
		return fmt.Errorf("%w: max purge count must be positive, got %d", conductor.ErrInvalidPurge, r.MaxPurgeCount)
	case r.OlderThan < 0:
		return fmt.Errorf("%w: negative age threshold %s", conductor.ErrInvalidPurge, r.OlderThan)
	}
	return nil
}
