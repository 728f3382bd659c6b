package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/api/handlers"
	"github.com/BaSui01/grantflow/config"
	"github.com/BaSui01/grantflow/internal/cache"
	"github.com/BaSui01/grantflow/internal/database"
	"github.com/BaSui01/grantflow/internal/metrics"
	"github.com/BaSui01/grantflow/internal/pool"
	"github.com/BaSui01/grantflow/internal/telemetry"
	"github.com/BaSui01/grantflow/orchestrator"
	"github.com/BaSui01/grantflow/ranking"
	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/runstore"
	"github.com/BaSui01/grantflow/workers"
	"github.com/BaSui01/grantflow/workers/openai"
	"github.com/BaSui01/grantflow/workflow"
)

// =============================================================================
// 🧩 应用装配
// =============================================================================

// app 持有一次 serve 运行的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	providers *telemetry.Providers
	cache     *cache.Manager
	db        *database.PoolManager

	service *orchestrator.Service
	handler http.Handler
}

// newApp 按配置装配组件。ctx 结束时停止限流器的后台清理
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	if a.providers, err = telemetry.Init(cfg.Telemetry, logger); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	a.connectRedis()
	if cfg.Audit.Backend == config.AuditRedis && a.cache == nil {
		return nil, errors.New("audit backend redis requires a reachable redis")
	}

	w, err := a.buildWorkers(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}

	executor := a.buildExecutor()

	budgets := orchestrator.Budgets{
		Generation: cfg.Workflow.GenerationBudget,
		Search:     cfg.Workflow.SearchBudget,
		Compliance: cfg.Workflow.ComplianceBudget,
	}
	plannerOpts := []orchestrator.PlannerOption{
		orchestrator.WithPlannerBudgets(budgets),
		orchestrator.WithRankingConfig(cfg.Ranking),
		orchestrator.WithComplianceConfig(cfg.Compliance),
		orchestrator.WithPlannerLogger(logger),
	}
	if a.collector != nil {
		plannerOpts = append(plannerOpts, orchestrator.WithRankingObserver(func(r ranking.Ranking) {
			a.collector.RecordShortlist(r.Len())
		}))
	}
	planner, err := orchestrator.NewPlanner(w, plannerOpts...)
	if err != nil {
		return nil, err
	}

	svcOpts := []orchestrator.ServiceOption{
		orchestrator.WithBudgets(budgets),
		orchestrator.WithAsyncPool(pool.New(pool.Config{
			Workers:   cfg.Workflow.AsyncWorkers,
			QueueSize: cfg.Workflow.AsyncQueue,
		}, logger)),
		orchestrator.WithServiceLogger(logger),
	}
	if store != nil {
		svcOpts = append(svcOpts, orchestrator.WithStore(store))
	}
	a.service = orchestrator.NewService(planner, executor, svcOpts...)

	a.handler = a.buildRouter(ctx)
	return a, nil
}

// connectRedis Redis 不可用时降级：无嵌入缓存、无 blob 存储
func (a *app) connectRedis() {
	m, err := cache.NewManager(a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable, embedding cache and blob storage disabled",
			zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
		return
	}
	a.cache = m
}

func (a *app) buildWorkers(ctx context.Context) (orchestrator.Workers, error) {
	cfg := a.cfg
	w := orchestrator.Workers{Extractor: workers.LineExtractor{}}

	var embedder workers.Embedder
	switch cfg.Workers.Backend {
	case config.BackendOpenAI:
		client, err := openai.New(cfg.LLM, a.logger)
		if err != nil {
			return w, fmt.Errorf("create openai client: %w", err)
		}
		embedder, w.Generator = client, client
	default:
		embedder, w.Generator = workers.NewBagOfWordsEmbedder(0, a.logger), workers.TemplateGenerator{}
	}

	if a.cache != nil && cfg.Workers.EmbeddingCacheTTL > 0 {
		cached := workers.NewCachedEmbedder(embedder, a.cache, cfg.Workers.EmbeddingCacheTTL, a.logger)
		if a.collector != nil {
			cached.OnLookup(func(hit bool) { a.collector.RecordCache("embedding", hit) })
		}
		embedder = cached
	}
	w.Embedder = embedder

	index := workers.NewMemoryIndex(a.logger)
	if cfg.Workers.CatalogPath != "" {
		records, err := workers.LoadCatalog(cfg.Workers.CatalogPath)
		if err != nil {
			return w, err
		}
		if err := workers.IndexCatalog(ctx, embedder, index, records); err != nil {
			return w, err
		}
	} else {
		a.logger.Warn("no candidate catalog configured, grant searches will return empty shortlists")
	}
	w.Searcher = index

	if a.cache != nil {
		w.Blobs = workers.NewRedisBlobStore(a.cache.Client(),
			workers.WithBlobPrefix(a.cache.Key("blob:")),
			workers.WithBlobTTL(cfg.Workers.BlobTTL),
			workers.WithBlobLogger(a.logger),
		)
	}
	return w, nil
}

func (a *app) buildStore(ctx context.Context) (runstore.Store, error) {
	switch a.cfg.Audit.Backend {
	case config.AuditMemory:
		return runstore.NewMemoryStore(), nil
	case config.AuditRedis:
		return runstore.NewRedisStore(a.cache.Client(),
			runstore.WithRedisPrefix(a.cache.Key("run:")),
			runstore.WithRedisTTL(a.cfg.Audit.TTL),
			runstore.WithRedisLogger(a.logger),
		), nil
	case config.AuditDatabase:
		db, err := database.Open(a.cfg.Database, a.logger)
		if err != nil {
			return nil, err
		}
		a.db = db
		store := runstore.NewGormStore(db.DB(), a.logger)
		if a.cfg.Audit.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				return nil, fmt.Errorf("auto-migrate run store: %w", err)
			}
		}
		if a.collector != nil {
			if sqlDB, err := db.DB().DB(); err == nil {
				if err := a.collector.RegisterDB("grantflow", sqlDB); err != nil {
					a.logger.Warn("failed to register database metrics", zap.Error(err))
				}
			}
		}
		return store, nil
	default:
		a.logger.Info("run audit disabled")
		return nil, nil
	}
}

func (a *app) buildExecutor() *workflow.Executor {
	cfg := a.cfg

	breakerCfg := cfg.CircuitBreaker
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		a.logger.Warn("circuit state changed",
			zap.String("dependency", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if a.collector != nil {
			a.collector.BreakerStateChanged(name, from, to)
		}
	}

	var observers workflow.Observers
	if a.collector != nil {
		observers = append(observers, a.collector)
	}
	if cfg.Telemetry.Enabled {
		if o, err := telemetry.NewWorkflowObserver(nil, nil); err != nil {
			a.logger.Warn("workflow tracing disabled", zap.Error(err))
		} else {
			observers = append(observers, o)
		}
	}

	retryPolicy := cfg.Retry
	opts := []workflow.ExecutorOption{
		workflow.WithBreakers(circuitbreaker.NewRegistry(&breakerCfg, a.logger)),
		workflow.WithRetryPolicy(&retryPolicy),
		workflow.WithMaxConcurrency(cfg.Workflow.MaxConcurrency),
		workflow.WithLogger(a.logger),
	}
	if len(observers) > 0 {
		opts = append(opts, workflow.WithObserver(observers))
	}
	return workflow.NewExecutor(opts...)
}

func (a *app) buildRouter(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(Version, a.logger)
	if a.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", a.cache.Ping))
	}
	if a.db != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	}

	rc := handlers.RouterConfig{
		Workflows:      handlers.NewWorkflowHandler(a.service, a.logger),
		Health:         health,
		RateLimitRPS:   a.cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: a.cfg.RateLimit.Burst,
		Tracing:        a.cfg.Telemetry.Enabled,
		Logger:         a.logger,
	}
	// collector 为 nil 时不能赋给接口，否则 Instrument 会调用 nil 指针
	if a.collector != nil {
		rc.Metrics = a.collector
		rc.Gatherer = a.registry
	}
	return handlers.NewRouter(ctx, rc)
}

// close 等待异步运行结束后释放连接，ctx 限定总等待时间
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.service != nil {
		if err := a.service.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain async runs: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
