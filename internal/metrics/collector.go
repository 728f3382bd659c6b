package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。实现 workflow.Observer，并提供熔断器状态回调
type Collector struct {
	reg prometheus.Registerer

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepAttempts  *prometheus.HistogramVec
	stepsStarted  *prometheus.CounterVec

	// 熔断器指标
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// 业务指标
	shortlistSize prometheus.Histogram
	cacheRequests *prometheus.CounterVec

	logger *zap.Logger
}

var _ workflow.Observer = (*Collector)(nil)

// NewCollector registers all metrics on reg. A nil reg uses the process-wide default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		reg:    reg,
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	c.runsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_total",
		Help:      "Completed workflow runs by request type and final status",
	}, []string{"request_type", "status"})

	c.runDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_run_duration_seconds",
		Help:      "Wall time of a workflow run",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"request_type"})

	c.stepsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_steps_total",
		Help:      "Finished steps by terminal status",
	}, []string{"request_type", "step", "status"})

	c.stepDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_step_duration_seconds",
		Help:      "Step duration including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"request_type", "step"})

	c.stepAttempts = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_step_attempts",
		Help:      "Attempts used per finished step",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	}, []string{"dependency"})

	c.stepsStarted = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_steps_started_total",
		Help:      "Steps dispatched to a worker",
	}, []string{"request_type", "step"})

	c.breakerState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit state per dependency (0 closed, 1 open, 2 half-open)",
	}, []string{"dependency"})

	c.breakerTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_transitions_total",
		Help:      "Circuit state transitions per dependency",
	}, []string{"dependency", "from", "to"})

	c.shortlistSize = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ranking_shortlist_size",
		Help:      "Number of candidates returned by the ranking pipeline",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	c.cacheRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest path 应为路由模板，避免 run id 造成基数爆炸
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔁 工作流指标记录
// =============================================================================

func (c *Collector) StepStarted(_ context.Context, graph string, s *workflow.Step) {
	c.stepsStarted.WithLabelValues(graph, s.ID).Inc()
}

func (c *Collector) StepFinished(_ context.Context, graph string, r workflow.StepReport) {
	// 被跳过或未启动的步骤没有耗时
	if r.Attempts > 0 {
		c.stepDuration.WithLabelValues(graph, r.StepID).Observe(r.Duration.Seconds())
		dep := r.Dependency
		if dep == "" {
			dep = "none"
		}
		c.stepAttempts.WithLabelValues(dep).Observe(float64(r.Attempts))
	}
	c.stepsTotal.WithLabelValues(graph, r.StepID, string(r.Status)).Inc()
}

func (c *Collector) RunFinished(_ context.Context, graph string, res *workflow.Result) {
	requestType := res.RequestType
	if requestType == "" {
		requestType = graph
	}
	c.runsTotal.WithLabelValues(requestType, string(res.Status)).Inc()
	c.runDuration.WithLabelValues(requestType).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
}

// =============================================================================
// ⚡ 熔断器
// =============================================================================

// BreakerStateChanged matches circuitbreaker.Config.OnStateChange.
func (c *Collector) BreakerStateChanged(name string, from, to circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
	c.breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// =============================================================================
// 🏷️ 业务指标
// =============================================================================

// RecordShortlist 记录排序结果大小，空结果也计入
func (c *Collector) RecordShortlist(size int) {
	c.shortlistSize.Observe(float64(size))
}

// RecordCache records one cache lookup.
func (c *Collector) RecordCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(cache, result).Inc()
}

// RegisterDB exposes database/sql pool statistics under the given name.
func (c *Collector) RegisterDB(name string, db *sql.DB) error {
	return c.reg.Register(collectors.NewDBStatsCollector(db, name))
}

// statusCode 将 HTTP 状态码归类
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
