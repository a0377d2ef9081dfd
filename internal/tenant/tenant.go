// Package tenant propagates the active tenant id through request contexts.
// Every repository read and write is conditionally scoped to this id; a
// missing tenant id matches legacy rows with a NULL tenant column.
package tenant

import "context"

type contextKey struct{}

// WithTenant returns a context carrying the given tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the tenant id carried by the context, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
