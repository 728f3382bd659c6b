package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

const instrumentationName = "github.com/BaSui01/grantflow/workflow"

// WorkflowObserver exports finished steps and runs as spans, back-dated to their recorded
// start times, plus an OTel histogram of step latency. It keeps no per-run state.
type WorkflowObserver struct {
	tracer       trace.Tracer
	stepDuration metric.Float64Histogram
}

var _ workflow.Observer = (*WorkflowObserver)(nil)

// NewWorkflowObserver uses the given providers, or the globals when nil.
func NewWorkflowObserver(tp trace.TracerProvider, mp metric.MeterProvider) (*WorkflowObserver, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	h, err := mp.Meter(instrumentationName).Float64Histogram(
		"grantflow.workflow.step.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of finished workflow steps"),
	)
	if err != nil {
		return nil, err
	}
	return &WorkflowObserver{tracer: tp.Tracer(instrumentationName), stepDuration: h}, nil
}

func (o *WorkflowObserver) StepStarted(context.Context, string, *workflow.Step) {}

func (o *WorkflowObserver) StepFinished(ctx context.Context, graph string, r workflow.StepReport) {
	// 未启动的步骤没有时间信息，不生成 span
	if r.StartedAt.IsZero() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("workflow.graph", graph),
		attribute.String("workflow.step", r.StepID),
		attribute.String("workflow.step.status", string(r.Status)),
	}
	if r.Dependency != "" {
		attrs = append(attrs, attribute.String("workflow.dependency", r.Dependency))
	}
	if runID, ok := types.RunID(ctx); ok {
		attrs = append(attrs, attribute.String("workflow.run_id", runID))
	}

	_, span := o.tracer.Start(ctx, "step "+r.StepID,
		trace.WithTimestamp(r.StartedAt),
		trace.WithAttributes(attrs...),
		trace.WithAttributes(attribute.Int("workflow.step.attempts", r.Attempts)),
	)
	if r.Status != workflow.StepSucceeded {
		span.SetStatus(codes.Error, string(r.Kind))
	}
	span.End(trace.WithTimestamp(r.StartedAt.Add(r.Duration)))

	o.stepDuration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(attrs...))
}

func (o *WorkflowObserver) RunFinished(ctx context.Context, graph string, res *workflow.Result) {
	_, span := o.tracer.Start(ctx, "workflow "+graph,
		trace.WithTimestamp(res.StartedAt),
		trace.WithAttributes(
			attribute.String("workflow.graph", graph),
			attribute.String("workflow.run_id", res.RunID),
			attribute.String("workflow.status", string(res.Status)),
			attribute.Int("workflow.errors", len(res.Errors)),
		),
	)
	if res.Status == workflow.StatusFailed {
		span.SetStatus(codes.Error, "workflow failed")
	}
	span.End(trace.WithTimestamp(res.FinishedAt))
}
