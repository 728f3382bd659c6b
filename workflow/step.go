package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/grantflow/resilience/retry"
)

// StepFunc is the unit of work of a step. It receives the values of the step's declared
// input keys and returns the value stored under its output key.
type StepFunc func(ctx context.Context, in Inputs) (any, error)

// Step is one node of a workflow graph.
type Step struct {
	// ID is unique within the graph.
	ID string
	// Inputs are the keys the step reads. Each is produced by another step or present in
	// the initial payload.
	Inputs []string
	// Output is the key the step writes on success. Unique within the graph.
	Output string
	// DependsOn lists steps that must succeed first. Producers of Inputs are added implicitly.
	DependsOn []string
	// Dependency names the external dependency used for circuit breaking. Empty means ungated.
	Dependency string
	// Timeout bounds a single attempt. Zero means unbounded.
	Timeout time.Duration
	// Retry overrides the executor's default retry policy.
	Retry *retry.Policy
	// Run performs the work.
	Run StepFunc
}

// Inputs 步骤可见的输入值（仅包含声明的输入键）
type Inputs map[string]any

// Get returns the value of key.
func (in Inputs) Get(key string) (any, bool) {
	v, ok := in[key]
	return v, ok
}

// String returns the value of key as a string.
func (in Inputs) String(key string) (string, error) {
	return InputAs[string](in, key)
}

// InputAs returns the value of key asserted to T. A missing key or a value of another type is
// a validation error.
func InputAs[T any](in Inputs, key string) (T, error) {
	var zero T
	v, ok := in[key]
	if !ok {
		return zero, validationf("input %q missing", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, validationf("input %q has type %T, want %T", key, v, zero)
	}
	return t, nil
}

func (s *Step) String() string {
	return fmt.Sprintf("step(%s -> %s)", s.ID, s.Output)
}
