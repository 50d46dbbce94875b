package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpusgraph/weaver/internal/correlation"
)

func TestHandleStampsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h)

	ctx := correlation.With(context.Background(), "req-123")
	logger.InfoContext(ctx, "hello")

	require.Contains(t, buf.String(), `"correlation_id":"req-123"`)
}

func TestHandleOmitsCorrelationIDWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h)

	logger.InfoContext(context.Background(), "hello")

	require.NotContains(t, buf.String(), "correlation_id")
}
