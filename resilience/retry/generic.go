package retry

import "context"

// DoWithResultTyped is a type-safe generic wrapper around Retryer.DoWithResult.
// It eliminates the need for type assertions on the return value.
//
// Usage:
//
//	vec, attempts, err := retry.DoWithResultTyped(r, ctx, func(ctx context.Context) ([]float64, error) {
//	    return embedder.EmbedText(ctx, query)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, int, error) {
	result, attempts, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	v, _ := result.(T)
	return v, attempts, nil
}
