// Package scope carries the owner tag of the application instance on
// whose behalf work runs. The tag is captured from the submitting context
// into the task record and restored into the context of the step body.
package scope

import "context"

type ownerKey struct{}

// WithOwner returns a context tagged with owner. An empty owner leaves the
// context unchanged.
func WithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner returns the owner tag carried by ctx, or "" when there is none.
func Owner(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}
