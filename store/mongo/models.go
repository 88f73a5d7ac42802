package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/task"
	"github.com/xraph/conductor/workflow"
)

// ── Task model ────────────────────────────────────────────────────

type taskModel struct {
	ID          string         `bson:"_id"`
	Name        string         `bson:"name"`
	Queue       string         `bson:"queue"`
	Args        []any          `bson:"args"`
	Kwargs      map[string]any `bson:"kwargs,omitempty"`
	Status      string         `bson:"status"`
	Result      []any          `bson:"result,omitempty"`
	Error       string         `bson:"error"`
	Progress    any            `bson:"progress,omitempty"`
	Priority    int            `bson:"priority"`
	MaxRetries  int            `bson:"max_retries"`
	Retries     int            `bson:"retries"`
	Owner       string         `bson:"owner"`
	WorkerID    string         `bson:"worker_id"`
	RunAt       time.Time      `bson:"run_at"`
	StartedAt   *time.Time     `bson:"started_at,omitempty"`
	CompletedAt *time.Time     `bson:"completed_at,omitempty"`
	HeartbeatAt *time.Time     `bson:"heartbeat_at,omitempty"`
	Timeout     int64          `bson:"timeout"`
	CreatedAt   time.Time      `bson:"created_at"`
	UpdatedAt   time.Time      `bson:"updated_at"`
}

func toTaskModel(t *task.Task) *taskModel {
	args := t.Args
	if args == nil {
		args = []any{}
	}
	return &taskModel{
		ID:          t.ID.String(),
		Name:        t.Name,
		Queue:       t.Queue,
		Args:        args,
		Kwargs:      t.Kwargs,
		Status:      string(t.Status),
		Result:      t.Result,
		Error:       t.Error,
		Progress:    t.Progress,
		Priority:    t.Priority,
		MaxRetries:  t.MaxRetries,
		Retries:     t.Retries,
		Owner:       t.Owner,
		WorkerID:    t.WorkerID.String(),
		RunAt:       t.RunAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		HeartbeatAt: t.HeartbeatAt,
		Timeout:     t.Timeout.Nanoseconds(),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	parsedID, err := id.ParseTaskID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse task id %q: %w", m.ID, err)
	}

	t := &task.Task{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          parsedID,
		Name:        m.Name,
		Queue:       m.Queue,
		Args:        normalizeSlice(m.Args),
		Kwargs:      normalizeMap(m.Kwargs),
		Status:      task.Status(m.Status),
		Result:      normalizeSlice(m.Result),
		Error:       m.Error,
		Progress:    normalize(m.Progress),
		Priority:    m.Priority,
		MaxRetries:  m.MaxRetries,
		Retries:     m.Retries,
		Owner:       m.Owner,
		RunAt:       m.RunAt.UTC(),
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
	}

	if m.WorkerID != "" {
		if parsedWorker, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			t.WorkerID = parsedWorker
		}
	}

	return t, nil
}

// ── Workflow model ────────────────────────────────────────────────

type runModel struct {
	TaskID    string     `bson:"task_id"`
	DateStart time.Time  `bson:"date_start"`
	DateEnd   *time.Time `bson:"date_end,omitempty"`
}

type stepModel struct {
	Name       string     `bson:"name"`
	Task       string     `bson:"task"`
	Queue      string     `bson:"queue,omitempty"`
	RunHistory []runModel `bson:"run_history"`
}

type workflowModel struct {
	ID             string      `bson:"_id"`
	DefinitionName string      `bson:"definition_name"`
	OwnerTag       string      `bson:"owner_tag"`
	InitialArgs    []any       `bson:"initial_args,omitempty"`
	Revision       int64       `bson:"revision"`
	Steps          []stepModel `bson:"steps"`
	CreatedAt      time.Time   `bson:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at"`
}

func toWorkflowModel(inst *workflow.Instance) *workflowModel {
	steps := make([]stepModel, len(inst.Steps))
	for i, s := range inst.Steps {
		runs := make([]runModel, len(s.RunHistory))
		for k, r := range s.RunHistory {
			runs[k] = runModel{TaskID: r.TaskID.String(), DateStart: r.DateStart, DateEnd: r.DateEnd}
		}
		steps[i] = stepModel{Name: s.Name, Task: s.Task, Queue: s.Queue, RunHistory: runs}
	}
	return &workflowModel{
		ID:             inst.ID.String(),
		DefinitionName: inst.DefinitionName,
		OwnerTag:       inst.OwnerTag,
		InitialArgs:    inst.InitialArgs,
		Revision:       inst.Revision,
		Steps:          steps,
		CreatedAt:      inst.CreatedAt,
		UpdatedAt:      inst.UpdatedAt,
	}
}

func fromWorkflowModel(m *workflowModel) (*workflow.Instance, error) {
	parsedID, err := id.ParseWorkflowID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse workflow id %q: %w", m.ID, err)
	}

	steps := make([]workflow.Step, len(m.Steps))
	for i, s := range m.Steps {
		runs := make([]workflow.RunRecord, len(s.RunHistory))
		for k, r := range s.RunHistory {
			taskID, tErr := id.ParseTaskID(r.TaskID)
			if tErr != nil {
				return nil, fmt.Errorf("conductor/mongo: parse run task id %q: %w", r.TaskID, tErr)
			}
			runs[k] = workflow.RunRecord{TaskID: taskID, DateStart: r.DateStart.UTC(), DateEnd: r.DateEnd}
		}
		steps[i] = workflow.Step{
			StepDef:    workflow.StepDef{Name: s.Name, Task: s.Task, Queue: s.Queue},
			RunHistory: runs,
		}
	}

	return &workflow.Instance{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             parsedID,
		DefinitionName: m.DefinitionName,
		OwnerTag:       m.OwnerTag,
		InitialArgs:    normalizeSlice(m.InitialArgs),
		Revision:       m.Revision,
		Steps:          steps,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	ID          string            `bson:"_id"`
	Hostname    string            `bson:"hostname"`
	Queues      []string          `bson:"queues"`
	Concurrency int               `bson:"concurrency"`
	State       string            `bson:"state"`
	IsLeader    bool              `bson:"is_leader"`
	LeaderUntil *time.Time        `bson:"leader_until,omitempty"`
	LastSeen    time.Time         `bson:"last_seen"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Queues:      w.Queues,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		IsLeader:    w.IsLeader,
		LeaderUntil: w.LeaderUntil,
		LastSeen:    w.LastSeen,
		Metadata:    w.Metadata,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Queues:      m.Queues,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen.UTC(),
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

// leaseModel is the single leadership lease document.
type leaseModel struct {
	ID     string    `bson:"_id"`
	Holder string    `bson:"holder"`
	Until  time.Time `bson:"until"`
}
