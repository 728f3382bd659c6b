package circuitbreaker

import "context"

// GuardTyped is a type-safe wrapper around Registry.Guard.
//
// Usage:
//
//	vec, err := circuitbreaker.GuardTyped(reg, ctx, "embedding", func(ctx context.Context) ([]float64, error) {
//	    return embedder.EmbedText(ctx, query)
//	})
func GuardTyped[T any](r *Registry, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Guard(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
