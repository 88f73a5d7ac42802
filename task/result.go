package task

import (
	"fmt"
	"reflect"

	"github.com/xraph/conductor"
)

// Result is the ordered tuple returned by a step body. Its first element
// is the primary identifier handed to the next step of a workflow.
type Result []any

// Subject returns the element passed as the sole positional argument to
// the next step. It returns a *conductor.ChainError when the tuple cannot
// seed a successor.
func (r Result) Subject() (any, error) {
	if len(r) == 0 {
		return nil, &conductor.ChainError{Reason: "result is empty"}
	}
	first := r[0]
	if first == nil {
		return nil, &conductor.ChainError{Reason: "first result element is nil"}
	}
	switch reflect.ValueOf(first).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Func, reflect.Chan:
		return nil, &conductor.ChainError{
			Reason: fmt.Sprintf("first result element is a %T, want a scalar identifier", first),
		}
	}
	return first, nil
}
