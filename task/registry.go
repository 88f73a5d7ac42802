package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased step body. Typed definitions are converted
// to a HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, args []any, kwargs map[string]any) (Result, error)

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps task identifiers to step bodies. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// RegisterFunc registers an untyped step body. Its result is validated
// against the chaining contract when it runs inside a workflow.
func RegisterFunc(r *Registry, name string, fn HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r.set(name, entry{handler: fn, opts: o})
}

// RegisterDefinition registers a typed step body. The generic handler is
// wrapped in a closure that decodes the first positional argument into T
// and packs the returned subject and auxiliary value into a Result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, args []any, _ map[string]any) (Result, error) {
		var subject T
		if len(args) > 0 && args[0] != nil {
			if err := decodeArg(args[0], &subject); err != nil {
				return nil, fmt.Errorf("decode subject for task %q: %w", def.Name, err)
			}
		}
		next, aux, err := def.Handler(ctx, subject)
		if err != nil {
			return nil, err
		}
		return Result{next, aux}, nil
	}
	r.set(def.Name, entry{handler: handler, opts: def.Opts})
}

// decodeArg converts a loosely typed argument (as decoded from storage)
// into dst via a JSON round trip.
func decodeArg(arg any, dst any) error {
	if v, ok := arg.(json.RawMessage); ok {
		return json.Unmarshal(v, dst)
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (r *Registry) set(name string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = e
}

// Get returns the handler for the given task identifier.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// Has reports whether a body is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Options returns the registration options for name, or DefaultOptions
// when name is unknown.
func (r *Registry) Options(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.opts
	}
	return DefaultOptions()
}

// Names returns all registered task identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
