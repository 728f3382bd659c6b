package workflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/resilience/retry"
)

// Builder provides a fluent API for constructing workflow graphs.
type Builder struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

// NewBuilder creates a builder for a graph with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// Add appends a fully specified step.
func (b *Builder) Add(step Step) *Builder {
	b.steps = append(b.steps, step)
	return b
}

// Step starts configuring a step and returns a StepBuilder.
func (b *Builder) Step(id string, run StepFunc) *StepBuilder {
	return &StepBuilder{
		step:   Step{ID: id, Run: run},
		parent: b,
	}
}

// Build validates the graph structure (everything except payload keys) and returns it.
func (b *Builder) Build() (*Graph, error) {
	g := NewGraph(b.name, b.steps...)
	if issues := g.Validate(nil); len(issues) > 0 {
		return nil, fmt.Errorf("workflow %s: %w", b.name, IssuesError(issues))
	}

	b.logger.Debug("workflow graph built",
		zap.String("name", b.name),
		zap.Int("steps", g.Len()),
		zap.Int("layers", len(g.Layers())),
	)
	return g, nil
}

// MustBuild is like Build but panics on error. Intended for statically declared graphs.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// StepBuilder configures a single step.
type StepBuilder struct {
	step   Step
	parent *Builder
}

// Reads declares input keys.
func (sb *StepBuilder) Reads(keys ...string) *StepBuilder {
	sb.step.Inputs = append(sb.step.Inputs, keys...)
	return sb
}

// Writes declares the output key.
func (sb *StepBuilder) Writes(key string) *StepBuilder {
	sb.step.Output = key
	return sb
}

// After declares explicit dependencies.
func (sb *StepBuilder) After(ids ...string) *StepBuilder {
	sb.step.DependsOn = append(sb.step.DependsOn, ids...)
	return sb
}

// Guarded gates every attempt behind the circuit breaker of dependency.
func (sb *StepBuilder) Guarded(dependency string) *StepBuilder {
	sb.step.Dependency = dependency
	return sb
}

// Timeout bounds each attempt.
func (sb *StepBuilder) Timeout(d time.Duration) *StepBuilder {
	sb.step.Timeout = d
	return sb
}

// Retry overrides the retry policy.
func (sb *StepBuilder) Retry(p *retry.Policy) *StepBuilder {
	sb.step.Retry = p
	return sb
}

// Done finishes the step and returns to the graph builder.
func (sb *StepBuilder) Done() *Builder {
	sb.parent.steps = append(sb.parent.steps, sb.step)
	return sb.parent
}
