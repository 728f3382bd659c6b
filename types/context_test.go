package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextIDs(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(WithRequestID(WithTraceID(context.Background(), "trace-1"), "req-1"), "run-1")

	got, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", got)

	got, ok = RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", got)

	got, ok = RunID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "run-1", got)
}

func TestContextIDs_Missing(t *testing.T) {
	t.Parallel()

	_, ok := RunID(context.Background())
	assert.False(t, ok)

	// 空值等同于未设置
	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)

	// 外层覆盖内层
	ctx := WithRunID(WithRunID(context.Background(), "a"), "b")
	got, _ := RunID(ctx)
	assert.Equal(t, "b", got)
}
