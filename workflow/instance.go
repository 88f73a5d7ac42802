package workflow

import (
	"slices"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// RunRecord is one submission of a step to the dispatcher.
type RunRecord struct {
	TaskID    id.TaskID  `json:"task_id"`
	DateStart time.Time  `json:"date_start"`
	DateEnd   *time.Time `json:"date_end,omitempty"`
}

// Step is a step of an instance together with its run history. The last
// run record is authoritative for the step's status.
type Step struct {
	StepDef

	RunHistory []RunRecord `json:"run_history"`
}

// LatestRun returns the most recent run record, or nil when the step has
// never been submitted.
func (s *Step) LatestRun() *RunRecord {
	if len(s.RunHistory) == 0 {
		return nil
	}
	return &s.RunHistory[len(s.RunHistory)-1]
}

// Run returns the run record for the given task, or nil.
func (s *Step) Run(taskID id.TaskID) *RunRecord {
	for i := range s.RunHistory {
		if s.RunHistory[i].TaskID == taskID {
			return &s.RunHistory[i]
		}
	}
	return nil
}

// recordRun appends a run record for taskID unless one exists. An existing
// record keeps its position and gets the later start time. It reports
// whether the history changed.
func (s *Step) recordRun(taskID id.TaskID, start time.Time) bool {
	if r := s.Run(taskID); r != nil {
		if !start.After(r.DateStart) {
			return false
		}
		r.DateStart = start
		return true
	}
	s.RunHistory = append(s.RunHistory, RunRecord{TaskID: taskID, DateStart: start})
	return true
}

// dropRun removes the run record for taskID and reports whether one existed.
func (s *Step) dropRun(taskID id.TaskID) bool {
	for i := range s.RunHistory {
		if s.RunHistory[i].TaskID == taskID {
			s.RunHistory = slices.Delete(s.RunHistory, i, i+1)
			return true
		}
	}
	return false
}

// Instance is a persisted execution of a definition.
type Instance struct {
	conductor.Entity

	ID             id.WorkflowID `json:"id"`
	DefinitionName string        `json:"definition_name"`
	OwnerTag       string        `json:"owner_tag"`
	InitialArgs    []any         `json:"initial_args,omitempty"`

	// Revision increases by one on every successful update and guards
	// concurrent writers.
	Revision int64 `json:"revision"`

	Steps []Step `json:"steps"`
}

// newInstance builds an unsaved instance of def.
func newInstance(def *Definition, initialArgs []any, ownerTag string) *Instance {
	steps := make([]Step, len(def.Steps))
	for i, sd := range def.Steps {
		steps[i] = Step{StepDef: sd, RunHistory: []RunRecord{}}
	}
	return &Instance{
		Entity:         conductor.NewEntity(),
		ID:             id.NewWorkflowID(),
		DefinitionName: def.Name,
		OwnerTag:       ownerTag,
		InitialArgs:    slices.Clone(initialArgs),
		Steps:          steps,
	}
}

// Step returns the named step, or nil.
func (inst *Instance) Step(name string) *Step {
	if i := inst.StepIndex(name); i >= 0 {
		return &inst.Steps[i]
	}
	return nil
}

// StepIndex returns the position of the named step, or -1.
func (inst *Instance) StepIndex(name string) int {
	for i := range inst.Steps {
		if inst.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// NextStep returns the step after the named one. It returns nil for the
// last step and for unknown names.
func (inst *Instance) NextStep(name string) *Step {
	i := inst.StepIndex(name)
	if i < 0 || i+1 >= len(inst.Steps) {
		return nil
	}
	return &inst.Steps[i+1]
}

// Started reports whether any step has been submitted.
func (inst *Instance) Started() bool {
	for i := range inst.Steps {
		if len(inst.Steps[i].RunHistory) > 0 {
			return true
		}
	}
	return false
}

// TaskIDs returns every task id referenced by the run histories.
func (inst *Instance) TaskIDs() []id.TaskID {
	var ids []id.TaskID
	for i := range inst.Steps {
		for _, r := range inst.Steps[i].RunHistory {
			ids = append(ids, r.TaskID)
		}
	}
	return ids
}

// Clone returns a deep copy of the instance's step list and run histories.
func (inst *Instance) Clone() *Instance {
	cp := *inst
	cp.InitialArgs = slices.Clone(inst.InitialArgs)
	cp.Steps = make([]Step, len(inst.Steps))
	for i, s := range inst.Steps {
		s.RunHistory = slices.Clone(s.RunHistory)
		for j := range s.RunHistory {
			if end := s.RunHistory[j].DateEnd; end != nil {
				e := *end
				s.RunHistory[j].DateEnd = &e
			}
		}
		if s.RunHistory == nil {
			s.RunHistory = []RunRecord{}
		}
		cp.Steps[i] = s
	}
	return &cp
}
