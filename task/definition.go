package task

import "context"

// Definition is a typed step body. T is the type of the primary identifier
// flowing through the pipeline (must be JSON-serializable).
//
// The handler receives the subject decoded from the first positional
// argument and returns the subject for the next step plus an optional
// auxiliary value, which become Result{subject, aux}.
type Definition[T any] struct {
	// Name is the task identifier referenced by workflow steps.
	Name string

	// Handler is the step body.
	Handler func(ctx context.Context, subject T) (T, any, error)

	// Opts configures retries, queue, priority, and timeout.
	Opts Options
}

// NewDefinition creates a typed step body definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, subject T) (T, any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
