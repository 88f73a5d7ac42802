package workflow

import (
	"fmt"

	"github.com/xraph/conductor"
)

// StepDef is one step of a definition: a unique name and the task body it
// runs.
type StepDef struct {
	// Name identifies the step within its definition.
	Name string `json:"name" yaml:"name"`

	// Task is the identifier of the registered task body.
	Task string `json:"task" yaml:"task"`

	// Queue routes the step's tasks to a specific queue. Empty uses the
	// task body's registered queue.
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`
}

// Definition is an immutable, ordered list of steps.
type Definition struct {
	Name  string    `json:"name" yaml:"name"`
	Steps []StepDef `json:"steps" yaml:"steps"`
}

// StepRegistry reports whether a task body is registered.
type StepRegistry interface {
	Has(name string) bool
}

// Validate checks that the definition has at least one step, that step
// names are non-empty and unique, and that every step's task body is
// registered. A nil registry skips the last check.
func (d *Definition) Validate(reg StepRegistry) error {
	if d.Name == "" {
		return &conductor.DefinitionError{Reason: "name is empty"}
	}
	if len(d.Steps) == 0 {
		return &conductor.DefinitionError{Definition: d.Name, Reason: "no steps"}
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return &conductor.DefinitionError{
				Definition: d.Name,
				Reason:     fmt.Sprintf("step %d has no name", i),
			}
		}
		if _, dup := seen[s.Name]; dup {
			return &conductor.DefinitionError{Definition: d.Name, Step: s.Name, Reason: "duplicate step name"}
		}
		seen[s.Name] = struct{}{}

		if s.Task == "" {
			return &conductor.DefinitionError{Definition: d.Name, Step: s.Name, Reason: "no task identifier"}
		}
		if reg != nil && !reg.Has(s.Task) {
			return &conductor.DefinitionError{
				Definition: d.Name,
				Step:       s.Name,
				Reason:     fmt.Sprintf("task %q is not registered", s.Task),
			}
		}
	}
	return nil
}

// NewDefinition builds a definition whose step names equal their task
// identifiers.
func NewDefinition(name string, tasks ...string) *Definition {
	steps := make([]StepDef, len(tasks))
	for i, t := range tasks {
		steps[i] = StepDef{Name: t, Task: t}
	}
	return &Definition{Name: name, Steps: steps}
}
