package handlers

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	Workflows *WorkflowHandler
	Health    *HealthHandler
	// Metrics 为空时不记录 HTTP 指标
	Metrics HTTPRecorder
	// Gatherer 为空时不暴露 /metrics
	Gatherer prometheus.Gatherer

	RateLimitRPS   float64
	RateLimitBurst int
	Tracing        bool
	Logger         *zap.Logger
}

// NewRouter 注册全部端点并套上全局中间件。ctx 控制限流器的后台清理
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, Instrument(cfg.Metrics, route)(h))
	}

	if cfg.Health != nil {
		handle("GET /health", "/health", cfg.Health.HandleHealth)
		handle("GET /ready", "/ready", cfg.Health.HandleReady)
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if wf := cfg.Workflows; wf != nil {
		handle("POST /v1/workflows/{type}", "/v1/workflows/{type}", wf.HandleSubmit)
		handle("POST /v1/workflows/{type}/async", "/v1/workflows/{type}/async", wf.HandleSubmitAsync)
		handle("GET /v1/runs/{id}", "/v1/runs/{id}", wf.HandleGetRun)
		handle("GET /v1/runs", "/v1/runs", wf.HandleListRuns)
		handle("GET /v1/circuits", "/v1/circuits", wf.HandleListCircuits)
		handle("GET /v1/circuits/{name}", "/v1/circuits/{name}", wf.HandleGetCircuit)
	}

	// 未匹配的路径统一返回 JSON 404
	mux.Handle("/", Instrument(cfg.Metrics, "unmatched")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, types.Errorf(types.KindNotFound, "no route for %s %s", r.Method, r.URL.Path), nil)
	})))

	middlewares := []Middleware{
		Recovery(logger),
		RequestID(),
		AccessLog(logger),
		SecurityHeaders(),
	}
	if cfg.Tracing {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
	return Chain(mux, middlewares...)
}
