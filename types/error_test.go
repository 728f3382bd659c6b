package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewTransientError("embedding", "rate limited").
		WithCause(root).
		WithHTTPStatus(429)

	if KindOf(err) != KindTransient {
		t.Fatalf("expected kind %s, got %s", KindTransient, KindOf(err))
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	assert.Equal(t, "embedding", err.Dependency)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"structured", NewValidationError("bad"), KindValidation},
		{"wrapped structured", fmt.Errorf("outer: %w", NewNotFoundError("gone")), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindBudgetExceeded},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), KindCancelled},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_Classification(t *testing.T) {
	assert.True(t, KindTransient.Retryable())
	for _, k := range []ErrorKind{KindValidation, KindAuthorization, KindNotFound, KindCircuitOpen, KindInternal} {
		assert.False(t, k.Retryable(), string(k))
	}
	assert.True(t, KindAuthorization.CallerFault())
	assert.False(t, KindTransient.CallerFault())
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(NewError(KindTransient, "x").WithRetryable(false)))
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := FromContext(ctx)
	require.NotNil(t, e)
	assert.Equal(t, KindCancelled, e.Kind)

	dctx, dcancel := context.WithTimeout(context.Background(), 0)
	defer dcancel()
	<-dctx.Done()
	assert.Equal(t, KindBudgetExceeded, FromContext(dctx).Kind)
}

func TestFundingRange_Overlaps(t *testing.T) {
	tests := []struct {
		a, b FundingRange
		want bool
	}{
		{FundingRange{Min: 10, Max: 20}, FundingRange{Min: 15, Max: 30}, true},
		{FundingRange{Min: 10, Max: 20}, FundingRange{Min: 21, Max: 30}, false},
		{FundingRange{Min: 10}, FundingRange{Min: 1000, Max: 2000}, true},
		{FundingRange{Min: 50, Max: 60}, FundingRange{Max: 40}, false},
		{FundingRange{Min: 20, Max: 20}, FundingRange{Min: 20, Max: 20}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Overlaps(tt.b), "%+v vs %+v", tt.a, tt.b)
		assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "%+v vs %+v", tt.b, tt.a)
	}
}
