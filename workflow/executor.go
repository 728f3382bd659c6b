package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/resilience/retry"
	"github.com/BaSui01/grantflow/types"
)

const instrumentationName = "github.com/BaSui01/grantflow/workflow"

// DefaultMaxConcurrency bounds concurrently running steps of one run.
const DefaultMaxConcurrency = 8

// Executor runs workflow graphs. It holds no per-run state and is safe for concurrent use.
type Executor struct {
	breakers       *circuitbreaker.Registry
	policy         *retry.Policy
	maxConcurrency int
	observer       Observer
	logger         *zap.Logger
	tracer         trace.Tracer
	now            func() time.Time
	newRunID       func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBreakers shares a circuit breaker registry with other executors.
func WithBreakers(r *circuitbreaker.Registry) ExecutorOption {
	return func(e *Executor) { e.breakers = r }
}

// WithRetryPolicy sets the default retry policy for steps without their own.
func WithRetryPolicy(p *retry.Policy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithMaxConcurrency bounds concurrently running steps. n <= 0 keeps the default.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithObserver installs lifecycle hooks.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets a custom logger
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor 创建执行器
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		maxConcurrency: DefaultMaxConcurrency,
		now:            time.Now,
		newRunID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "workflow_executor"))
	if e.breakers == nil {
		e.breakers = circuitbreaker.NewRegistry(nil, e.logger)
	}
	if e.policy == nil {
		e.policy = retry.DefaultPolicy()
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	return e
}

// Breakers returns the circuit breaker registry.
func (e *Executor) Breakers() *circuitbreaker.Registry { return e.breakers }

// Execute runs graph to completion and aggregates the outcome. It never returns a nil result;
// step failures, cancellation and budget exhaustion are all reported inside the result.
// The run ID is taken from ctx (types.WithRunID) or generated.
func (e *Executor) Execute(ctx context.Context, graph *Graph, payload map[string]any) *Result {
	runID, ok := types.RunID(ctx)
	if !ok {
		runID = e.newRunID()
		ctx = types.WithRunID(ctx, runID)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", graph.Name()),
		attribute.String("workflow.run_id", runID),
		attribute.Int("workflow.steps", graph.Len()),
	))
	defer span.End()

	logger := e.logger.With(zap.String("run_id", runID), zap.String("workflow", graph.Name()))
	logger.Info("starting workflow run", zap.Int("steps", graph.Len()))

	var res *Result
	if issues := graph.Validate(payloadOrEmpty(payload)); len(issues) > 0 {
		res = e.rejected(runID, graph, issues)
		logger.Warn("workflow graph rejected", zap.Error(IssuesError(issues)))
	} else {
		r := newRun(ctx, e, graph, payload, runID, logger)
		res = r.execute()
	}

	span.SetAttributes(attribute.String("workflow.status", string(res.Status)))
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, "workflow failed")
	}

	logger.Info("workflow run finished",
		zap.String("status", string(res.Status)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.Duration()))

	e.observer.RunFinished(ctx, graph.Name(), res)
	return res
}

// rejected 构造校验失败的结果：每个出错步骤一条 validation 错误，不调用任何步骤
func (e *Executor) rejected(runID string, graph *Graph, issues []Issue) *Result {
	now := e.now()
	res := &Result{
		RunID:       runID,
		RequestType: graph.Name(),
		Status:      StatusFailed,
		Outputs:     map[string]any{},
		StartedAt:   now,
		FinishedAt:  now,
	}

	var order []string
	msgs := make(map[string][]string)
	for _, is := range issues {
		if _, seen := msgs[is.StepID]; !seen {
			order = append(order, is.StepID)
		}
		msgs[is.StepID] = append(msgs[is.StepID], is.Err.Error())
	}
	for _, id := range order {
		res.Errors = append(res.Errors, StepError{
			StepID:  id,
			Kind:    types.KindValidation,
			Message: strings.Join(msgs[id], "; "),
		})
	}
	for _, s := range graph.Steps() {
		res.Steps = append(res.Steps, StepReport{StepID: s.ID, Status: StepSkipped, Dependency: s.Dependency})
	}
	return res
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

// =============================================================================
// 单次运行
// =============================================================================

type stepOutcome struct {
	id         string
	value      any
	attempts   int
	err        error
	notStarted bool
	startedAt  time.Time
	duration   time.Duration
}

// run 持有一次运行的全部状态，只由协调 goroutine 修改
type run struct {
	ctx    context.Context
	e      *Executor
	graph  *Graph
	runID  string
	logger *zap.Logger

	status      map[string]StepStatus
	reports     map[string]*StepReport
	values      map[string]any
	outputs     map[string]any
	errors      []StepError
	interrupted bool

	results  chan stepOutcome
	inFlight int
	group    errgroup.Group
}

func newRun(ctx context.Context, e *Executor, g *Graph, payload map[string]any, runID string, logger *zap.Logger) *run {
	r := &run{
		ctx:     ctx,
		e:       e,
		graph:   g,
		runID:   runID,
		logger:  logger,
		status:  make(map[string]StepStatus, g.Len()),
		reports: make(map[string]*StepReport, g.Len()),
		values:  make(map[string]any, len(payload)+g.Len()),
		outputs: make(map[string]any, g.Len()),
		results: make(chan stepOutcome, g.Len()),
	}
	for k, v := range payload {
		r.values[k] = v
	}
	for _, s := range g.Steps() {
		r.status[s.ID] = StepPending
		r.reports[s.ID] = &StepReport{StepID: s.ID, Status: StepPending, Dependency: s.Dependency}
	}
	r.group.SetLimit(e.maxConcurrency)
	return r
}

func (r *run) execute() *Result {
	started := r.e.now()
	// 不可取消的 ctx（如 context.Background）Done 为 nil，select 只等结果
	done := r.ctx.Done()
	cancelled := false

	for {
		if !cancelled && r.ctx.Err() != nil {
			r.cancelPending()
			cancelled = true
			done = nil
		}
		if !cancelled {
			r.dispatchReady()
		}
		if r.inFlight == 0 {
			break
		}

		select {
		case o := <-r.results:
			r.inFlight--
			r.handle(o)
		case <-done:
		}
	}
	_ = r.group.Wait()

	if r.ctx.Err() != nil {
		r.cancelPending()
	}
	r.strandPending()
	return r.aggregate(started)
}

// dispatchReady 启动所有依赖均已成功的待执行步骤（按声明顺序）
func (r *run) dispatchReady() {
	for _, s := range r.graph.Steps() {
		if r.status[s.ID] != StepPending || !r.ready(s) {
			continue
		}
		if r.ctx.Err() != nil {
			return
		}

		in := make(Inputs, len(s.Inputs))
		for _, k := range s.Inputs {
			in[k] = r.values[k]
		}

		r.status[s.ID] = StepRunning
		r.reports[s.ID].Status = StepRunning
		r.inFlight++
		r.e.observer.StepStarted(r.ctx, r.graph.Name(), s)

		step := s
		r.group.Go(func() error {
			r.results <- r.runStep(step, in)
			return nil
		})
	}
}

func (r *run) ready(s *Step) bool {
	for _, d := range r.graph.Dependencies(s.ID) {
		if r.status[d] != StepSucceeded {
			return false
		}
	}
	return true
}

// handle 处理一个步骤的结果（协调 goroutine 内调用）
func (r *run) handle(o stepOutcome) {
	s, _ := r.graph.Step(o.id)
	rep := r.reports[o.id]
	rep.Attempts = o.attempts
	rep.StartedAt = o.startedAt
	rep.Duration = o.duration

	switch {
	case o.notStarted:
		r.markCancelled(o.id)
		return

	case o.err == nil:
		// 先写输出，再调度下游
		r.values[s.Output] = o.value
		r.outputs[s.Output] = o.value
		r.status[o.id] = StepSucceeded
		rep.Status = StepSucceeded

	default:
		kind := types.KindOf(o.err)
		if kind == types.KindCancelled || kind == types.KindBudgetExceeded {
			r.interrupted = true
			r.status[o.id] = StepCancelled
			rep.Status = StepCancelled
		} else {
			r.status[o.id] = StepFailed
			rep.Status = StepFailed
		}
		rep.Kind = kind
		r.errors = append(r.errors, StepError{
			StepID:   o.id,
			Kind:     kind,
			Message:  shortMessage(o.err),
			Attempts: o.attempts,
		})
		r.logger.Warn("step failed",
			zap.String("step_id", o.id),
			zap.String("dependency", s.Dependency),
			zap.String("kind", string(kind)),
			zap.Int("attempts", o.attempts),
			zap.Error(o.err))

		if r.ctx.Err() == nil {
			r.skipDescendants(o.id)
		}
	}

	r.e.observer.StepFinished(r.ctx, r.graph.Name(), *rep)
}

// skipDescendants 将所有传递下游标记为 upstream_failure，它们不会被调用
func (r *run) skipDescendants(id string) {
	for _, d := range r.graph.Descendants(id) {
		if r.status[d] != StepPending {
			continue
		}
		r.status[d] = StepSkipped
		rep := r.reports[d]
		rep.Status = StepSkipped
		rep.Kind = types.KindUpstreamFailure
		r.errors = append(r.errors, StepError{
			StepID:  d,
			Kind:    types.KindUpstreamFailure,
			Message: fmt.Sprintf("upstream step %s failed", id),
		})
		r.e.observer.StepFinished(r.ctx, r.graph.Name(), *rep)
	}
}

// cancelPending 运行被取消或超出预算：所有未启动的步骤标记为 cancelled / budget_exceeded
func (r *run) cancelPending() {
	for _, s := range r.graph.Steps() {
		if r.status[s.ID] == StepPending {
			r.markCancelled(s.ID)
		}
	}
}

// strandPending 循环结束仍未启动的步骤不能算成功：记为 internal 错误
func (r *run) strandPending() {
	for _, s := range r.graph.Steps() {
		if r.status[s.ID] != StepPending {
			continue
		}
		r.status[s.ID] = StepSkipped
		rep := r.reports[s.ID]
		rep.Status = StepSkipped
		rep.Kind = types.KindInternal
		r.errors = append(r.errors, StepError{
			StepID:  s.ID,
			Kind:    types.KindInternal,
			Message: "step never became ready",
		})
		r.logger.Error("step left pending after run", zap.String("step_id", s.ID))
		r.e.observer.StepFinished(r.ctx, r.graph.Name(), *rep)
	}
}

func (r *run) markCancelled(id string) {
	r.interrupted = true
	kind, msg := types.KindCancelled, "run cancelled before step started"
	if errors.Is(r.ctx.Err(), context.DeadlineExceeded) {
		kind, msg = types.KindBudgetExceeded, "run budget exhausted before step started"
	}

	r.status[id] = StepCancelled
	rep := r.reports[id]
	rep.Status = StepCancelled
	rep.Kind = kind
	r.errors = append(r.errors, StepError{StepID: id, Kind: kind, Message: msg})
	r.e.observer.StepFinished(r.ctx, r.graph.Name(), *rep)
}

func (r *run) aggregate(started time.Time) *Result {
	res := &Result{
		RunID:       r.runID,
		RequestType: r.graph.Name(),
		Outputs:     r.outputs,
		Errors:      r.errors,
		StartedAt:   started,
		FinishedAt:  r.e.now(),
	}
	for _, s := range r.graph.Steps() {
		res.Steps = append(res.Steps, *r.reports[s.ID])
	}

	switch {
	case len(r.errors) == 0:
		res.Status = StatusSucceeded
	case r.interrupted:
		res.Status = StatusFailed
	default:
		res.Status = StatusFailed
		for _, key := range r.graph.TerminalOutputs() {
			if _, ok := r.outputs[key]; ok {
				res.Status = StatusPartiallySucceeded
				break
			}
		}
	}
	return res
}

// =============================================================================
// 步骤调用：retry(breaker.guard(dependency, work))
// =============================================================================

func (r *run) runStep(s *Step, in Inputs) stepOutcome {
	started := r.e.now()
	if r.ctx.Err() != nil {
		return stepOutcome{id: s.ID, notStarted: true, startedAt: started}
	}

	ctx, span := r.e.tracer.Start(r.ctx, "workflow.step", trace.WithAttributes(
		attribute.String("workflow.step_id", s.ID),
		attribute.String("workflow.dependency", s.Dependency),
	))
	defer span.End()

	policy := s.Retry
	if policy == nil {
		policy = r.e.policy
	}
	retryer := retry.NewBackoffRetryer(policy, r.logger.With(zap.String("step_id", s.ID)))

	value, attempts, err := retryer.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return r.attempt(ctx, s, in)
	})

	span.SetAttributes(attribute.Int("workflow.attempts", attempts))
	if err != nil {
		span.SetAttributes(attribute.String("workflow.error_kind", string(types.KindOf(err))))
		span.SetStatus(codes.Error, shortMessage(err))
	}

	return stepOutcome{
		id:        s.ID,
		value:     value,
		attempts:  attempts,
		err:       err,
		startedAt: started,
		duration:  r.e.now().Sub(started),
	}
}

// attempt 执行一次尝试。已开始的尝试不受运行取消影响，只受步骤超时约束
func (r *run) attempt(ctx context.Context, s *Step, in Inputs) (any, error) {
	actx := context.WithoutCancel(ctx)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, s.Timeout)
		defer cancel()
	}

	var value any
	err := r.e.breakers.Guard(actx, s.Dependency, func(ctx context.Context) error {
		v, err := invoke(ctx, s, in)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
				return types.NewTransientError(s.Dependency, "step attempt timed out").WithCause(err)
			}
			return err
		}
		value = v
		return nil
	})
	return value, err
}

func invoke(ctx context.Context, s *Step, in Inputs) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.Errorf(types.KindInternal, "step panicked: %v", rec)
		}
	}()
	return s.Run(ctx, in)
}

// shortMessage 提取面向调用方的简短错误信息，详细原因只进日志
func shortMessage(err error) string {
	if e, ok := types.AsError(err); ok {
		return e.Message
	}
	switch types.KindOf(err) {
	case types.KindBudgetExceeded:
		return "run budget exhausted"
	case types.KindCancelled:
		return "run cancelled"
	}
	return "step failed"
}
