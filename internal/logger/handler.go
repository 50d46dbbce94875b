package logger

import (
	"context"
	"log/slog"

	"github.com/corpusgraph/weaver/internal/correlation"
)

// ContextHandler wraps a slog.Handler and stamps every record with the
// correlation id carried on the record's context, if any.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := correlation.ID(ctx); id != "unknown" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
