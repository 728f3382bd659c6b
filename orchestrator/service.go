package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/internal/pool"
	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/runstore"
	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

// Budgets are the wall-time limits per budget class.
type Budgets struct {
	Generation time.Duration `json:"generation"`
	Search     time.Duration `json:"search"`
	Compliance time.Duration `json:"compliance"`
}

// DefaultBudgets returns 60s for generation, 5s for search and 30s for compliance.
func DefaultBudgets() Budgets {
	return Budgets{Generation: 60 * time.Second, Search: 5 * time.Second, Compliance: 30 * time.Second}
}

func (b Budgets) of(class BudgetClass) time.Duration {
	d := DefaultBudgets()
	var v, def time.Duration
	switch class {
	case BudgetGeneration:
		v, def = b.Generation, d.Generation
	case BudgetSearch:
		v, def = b.Search, d.Search
	default:
		v, def = b.Compliance, d.Compliance
	}
	if v <= 0 {
		return def
	}
	return v
}

// RunState is the lifecycle state of a submitted run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
)

// Run is the view of a run returned by GetRun. Result is nil while the run is in progress.
type Run struct {
	RunID       string           `json:"run_id"`
	RequestType string           `json:"request_type"`
	State       RunState         `json:"state"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Result      *workflow.Result `json:"result,omitempty"`
}

// maxRetained 未能写入存储的已完成异步运行在内存中保留的上限
const maxRetained = 1024

// Service 工作流服务门面：规划、执行、审计存储与熔断器查询
type Service struct {
	planner  *Planner
	executor *workflow.Executor
	store    runstore.Store
	async    *pool.Pool
	budgets  Budgets
	logger   *zap.Logger
	newID    func() string

	mu       sync.Mutex
	runs     map[string]*Run
	retained []string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore enables the audit record of every run.
func WithStore(s runstore.Store) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

func WithBudgets(b Budgets) ServiceOption {
	return func(svc *Service) { svc.budgets = b }
}

// WithAsyncPool sets the pool used by SubmitAsync. The service closes it on Close.
func WithAsyncPool(p *pool.Pool) ServiceOption {
	return func(svc *Service) { svc.async = p }
}

func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// WithRunIDGenerator 替换运行 ID 生成器，测试用
func WithRunIDGenerator(fn func() string) ServiceOption {
	return func(svc *Service) { svc.newID = fn }
}

// NewService creates the service. The executor owns retry and circuit breaking.
func NewService(planner *Planner, executor *workflow.Executor, opts ...ServiceOption) *Service {
	s := &Service{
		planner:  planner,
		executor: executor,
		budgets:  DefaultBudgets(),
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.async == nil {
		s.async = pool.New(pool.DefaultConfig(), s.logger)
	}
	s.logger = s.logger.With(zap.String("component", "orchestrator"))
	return s
}

// =============================================================================
// 🚀 提交
// =============================================================================

// SubmitWorkflow plans and runs requestType synchronously. Step failures are reported inside
// the result; the error is non-nil only when the request is rejected before running.
func (s *Service) SubmitWorkflow(ctx context.Context, requestType string, payload map[string]any) (*workflow.Result, error) {
	g, in, err := s.planner.Plan(requestType, payload)
	if err != nil {
		return nil, err
	}
	runID, ok := types.RunID(ctx)
	if !ok {
		runID = s.newID()
		ctx = types.WithRunID(ctx, runID)
	}
	res := s.execute(ctx, requestType, g, in)
	s.record(ctx, res)
	return res, nil
}

// SubmitAsync validates and plans synchronously, then runs in the background. The returned
// run ID can be polled with GetRun. The run is detached from ctx cancellation.
func (s *Service) SubmitAsync(ctx context.Context, requestType string, payload map[string]any) (string, error) {
	g, in, err := s.planner.Plan(requestType, payload)
	if err != nil {
		return "", err
	}
	runID := s.newID()
	run := &Run{RunID: runID, RequestType: requestType, State: RunRunning, SubmittedAt: time.Now().UTC()}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	bg := types.WithRunID(context.WithoutCancel(ctx), runID)
	err = s.async.Submit(bg, requestType+"/"+runID, func(ctx context.Context) error {
		res := s.execute(ctx, requestType, g, in)
		stored := s.record(ctx, res)
		s.complete(runID, res, stored)
		return nil
	})
	if err != nil {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
		if errors.Is(err, pool.ErrPoolFull) {
			return "", types.NewError(types.KindTransient, "too many runs in progress").WithCause(err)
		}
		return "", types.NewError(types.KindInternal, "async submission unavailable").WithCause(err)
	}
	s.logger.Info("workflow submitted", zap.String("run_id", runID), zap.String("request_type", requestType))
	return runID, nil
}

func (s *Service) execute(ctx context.Context, requestType string, g *workflow.Graph, in map[string]any) *workflow.Result {
	class, _ := BudgetFor(requestType)
	ctx, cancel := context.WithTimeout(ctx, s.budgets.of(class))
	defer cancel()
	return s.executor.Execute(ctx, g, in)
}

// record 追加审计记录；存储失败只记日志，不影响运行结果
func (s *Service) record(ctx context.Context, res *workflow.Result) bool {
	if s.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Append(ctx, runstore.FromResult(res)); err != nil {
		s.logger.Warn("failed to record workflow run",
			zap.String("run_id", res.RunID),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		return false
	}
	return true
}

// complete 已写入存储的运行从内存移除，否则保留最近 maxRetained 个
func (s *Service) complete(runID string, res *workflow.Result, stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return
	}
	if stored {
		delete(s.runs, runID)
		return
	}
	run.State = RunCompleted
	run.Result = res
	s.retained = append(s.retained, runID)
	if len(s.retained) > maxRetained {
		delete(s.runs, s.retained[0])
		s.retained = s.retained[1:]
	}
}

// =============================================================================
// 🔍 查询
// =============================================================================

// GetRun returns an in-progress or retained run first, then the audit store.
func (s *Service) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	if run, ok := s.runs[runID]; ok {
		cp := *run
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil, types.Errorf(types.KindNotFound, "run %s not found", runID)
	}
	rec, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Run{
		RunID:       rec.RunID,
		RequestType: rec.RequestType,
		State:       RunCompleted,
		SubmittedAt: rec.StartedAt,
		Result:      rec.Result(),
	}, nil
}

// ListRuns lists audit records newest first.
func (s *Service) ListRuns(ctx context.Context, requestType string, limit int) ([]runstore.Record, error) {
	if s.store == nil {
		return nil, types.NewNotFoundError("run history is disabled")
	}
	if requestType != "" {
		if _, ok := BudgetFor(requestType); !ok {
			return nil, types.Errorf(types.KindValidation, "unknown request type %q", requestType)
		}
	}
	return s.store.List(ctx, requestType, limit)
}

// GetCircuitState returns the breaker snapshot of a dependency. ok is false when the
// dependency has never been called.
func (s *Service) GetCircuitState(name string) (circuitbreaker.Snapshot, bool) {
	return s.executor.Breakers().State(name)
}

// Circuits returns every known breaker.
func (s *Service) Circuits() []circuitbreaker.Snapshot {
	return s.executor.Breakers().Snapshots()
}

// Pending reports the number of async runs not yet finished.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.State == RunRunning {
			n++
		}
	}
	return n
}

// AsyncStats exposes the async pool counters.
func (s *Service) AsyncStats() pool.Stats { return s.async.Stats() }

// Close waits for async runs to finish or ctx to expire.
func (s *Service) Close(ctx context.Context) error {
	return s.async.Close(ctx)
}
