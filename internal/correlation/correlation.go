// Package correlation attaches an opaque id to a job pipeline's context so
// every log line it produces can be grepped together.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type key int

const idKey key = 0

// WithNew derives a child context carrying a freshly generated correlation id.
func WithNew(ctx context.Context) context.Context {
	return With(ctx, uuid.New().String())
}

// With derives a child context carrying the given correlation id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// ID returns the correlation id attached to ctx, or "unknown" if none.
func ID(ctx context.Context) string {
	if id, ok := ctx.Value(idKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}
