package workflow

import "context"

// Observer receives executor lifecycle events. Implementations must be safe for concurrent use
// and must not block.
type Observer interface {
	StepStarted(ctx context.Context, graph string, step *Step)
	StepFinished(ctx context.Context, graph string, report StepReport)
	RunFinished(ctx context.Context, graph string, result *Result)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) StepStarted(context.Context, string, *Step) {}
func (NopObserver) StepFinished(context.Context, string, StepReport) {}
func (NopObserver) RunFinished(context.Context, string, *Result) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StepStarted(ctx context.Context, graph string, step *Step) {
	for _, x := range o {
		x.StepStarted(ctx, graph, step)
	}
}

func (o Observers) StepFinished(ctx context.Context, graph string, report StepReport) {
	for _, x := range o {
		x.StepFinished(ctx, graph, report)
	}
}

func (o Observers) RunFinished(ctx context.Context, graph string, result *Result) {
	for _, x := range o {
		x.RunFinished(ctx, graph, result)
	}
}
