// =============================================================================
// 📦 GrantFlow 默认配置
// =============================================================================
// 组件自带的 DefaultConfig 优先；这里只补充服务级的默认值
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/grantflow/compliance"
	"github.com/BaSui01/grantflow/internal/cache"
	"github.com/BaSui01/grantflow/internal/database"
	"github.com/BaSui01/grantflow/internal/server"
	"github.com/BaSui01/grantflow/internal/telemetry"
	"github.com/BaSui01/grantflow/ranking"
	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/resilience/retry"
	"github.com/BaSui01/grantflow/workers/openai"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:         server.DefaultConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		Log:            DefaultLogConfig(),
		Redis:          cache.DefaultConfig(),
		Database:       database.DefaultConfig(),
		Workflow:       DefaultWorkflowConfig(),
		Retry:          *retry.DefaultPolicy(),
		CircuitBreaker: *circuitbreaker.DefaultConfig(),
		Ranking:        ranking.DefaultConfig(),
		Compliance:     compliance.DefaultConfig(),
		Workers:        DefaultWorkersConfig(),
		LLM:            openai.DefaultConfig(),
		Audit:          DefaultAuditConfig(),
		Metrics:        DefaultMetricsConfig(),
		Telemetry:      telemetry.DefaultConfig(),
	}
}

// DefaultRateLimitConfig 100 rps，突发 200
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, Burst: 200}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultWorkflowConfig returns the per request type time budgets.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxConcurrency:   8,
		GenerationBudget: 60 * time.Second,
		SearchBudget:     5 * time.Second,
		ComplianceBudget: 30 * time.Second,
		AsyncWorkers:     4,
		AsyncQueue:       64,
	}
}

func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		Backend:           BackendLocal,
		EmbeddingCacheTTL: 24 * time.Hour,
		BlobTTL:           time.Hour,
	}
}

func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Backend: AuditMemory,
		TTL:     7 * 24 * time.Hour,
	}
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "grantflow"}
}

// =============================================================================
// ✅ 验证
// =============================================================================

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 检查跨组件的配置约束，组件自身的规则委托给各自的 Validate
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second cannot be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive when rate limiting is enabled")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	w := c.Workflow
	if w.MaxConcurrency <= 0 {
		return fmt.Errorf("workflow.max_concurrency must be positive")
	}
	if w.GenerationBudget <= 0 || w.SearchBudget <= 0 || w.ComplianceBudget <= 0 {
		return fmt.Errorf("workflow budgets must be positive")
	}
	if w.AsyncWorkers <= 0 || w.AsyncQueue <= 0 {
		return fmt.Errorf("workflow.async_workers and async_queue must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must not be below initial_delay")
	}

	cb := c.CircuitBreaker
	if cb.FailureThreshold <= 0 || cb.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker thresholds must be positive")
	}
	if cb.FailureWindow <= 0 || cb.OpenTimeout <= 0 {
		return fmt.Errorf("circuit_breaker durations must be positive")
	}

	if err := c.Ranking.Validate(); err != nil {
		return fmt.Errorf("ranking: %w", err)
	}
	if err := c.Compliance.Validate(); err != nil {
		return fmt.Errorf("compliance: %w", err)
	}

	switch c.Workers.Backend {
	case BackendLocal:
	case BackendOpenAI:
		if err := c.LLM.Validate(); err != nil {
			return fmt.Errorf("llm: %w", err)
		}
	default:
		return fmt.Errorf("workers.backend must be local or openai, got %q", c.Workers.Backend)
	}

	switch c.Audit.Backend {
	case AuditNone, AuditMemory:
	case AuditDatabase:
		if c.Database.DSN == "" {
			return fmt.Errorf("audit.backend database requires database.dsn")
		}
		if _, err := database.NormalizeDriver(c.Database.Driver); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case AuditRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("audit.backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("audit.backend must be none, memory, database or redis, got %q", c.Audit.Backend)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics are enabled")
	}
	return nil
}
