// =============================================================================
// 📦 GrantFlow 配置加载器
// =============================================================================
// 配置优先级: 默认值 → YAML 文件 → 环境变量（GRANTFLOW_ 前缀）
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("grantflow.yaml").
//	    Load()
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

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

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "GRANTFLOW"

// Config 是 GrantFlow 的完整配置结构
type Config struct {
	Server         server.Config         `yaml:"server" env:"SERVER"`
	RateLimit      RateLimitConfig       `yaml:"rate_limit" env:"RATE_LIMIT"`
	Log            LogConfig             `yaml:"log" env:"LOG"`
	Redis          cache.Config          `yaml:"redis" env:"REDIS"`
	Database       database.Config       `yaml:"database" env:"DATABASE"`
	Workflow       WorkflowConfig        `yaml:"workflow" env:"WORKFLOW"`
	Retry          retry.Policy          `yaml:"retry" env:"RETRY"`
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
	Ranking        ranking.Config        `yaml:"ranking" env:"RANKING"`
	Compliance     compliance.Config     `yaml:"compliance" env:"COMPLIANCE"`
	Workers        WorkersConfig         `yaml:"workers" env:"WORKERS"`
	LLM            openai.Config         `yaml:"llm" env:"LLM"`
	Audit          AuditConfig           `yaml:"audit" env:"AUDIT"`
	Metrics        MetricsConfig         `yaml:"metrics" env:"METRICS"`
	Telemetry      telemetry.Config      `yaml:"telemetry" env:"TELEMETRY"`
}

// RateLimitConfig 令牌桶限流，RequestsPerSecond 为 0 时关闭
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// WorkflowConfig 执行器并发与各类请求的时间预算
type WorkflowConfig struct {
	MaxConcurrency   int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	GenerationBudget time.Duration `yaml:"generation_budget" env:"GENERATION_BUDGET"`
	SearchBudget     time.Duration `yaml:"search_budget" env:"SEARCH_BUDGET"`
	ComplianceBudget time.Duration `yaml:"compliance_budget" env:"COMPLIANCE_BUDGET"`
	// AsyncWorkers 异步提交的并发上限
	AsyncWorkers int `yaml:"async_workers" env:"ASYNC_WORKERS"`
	// AsyncQueue 异步提交的排队上限，满时拒绝
	AsyncQueue int `yaml:"async_queue" env:"ASYNC_QUEUE"`
}

// Worker backends.
const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
)

// WorkersConfig 选择 worker 实现
type WorkersConfig struct {
	// local 使用进程内参考实现；openai 使用 LLM 配置连接外部服务
	Backend           string        `yaml:"backend" env:"BACKEND"`
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl" env:"EMBEDDING_CACHE_TTL"`
	BlobTTL           time.Duration `yaml:"blob_ttl" env:"BLOB_TTL"`
	// CatalogPath 启动时加载到参考索引的候选 JSON 文件，可为空
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH"`
}

// Audit backends.
const (
	AuditNone     = "none"
	AuditMemory   = "memory"
	AuditDatabase = "database"
	AuditRedis    = "redis"
)

// AuditConfig 运行记录存储
type AuditConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// TTL 仅对 redis 生效
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// AutoMigrate 启动时用 GORM 建表；生产环境应使用 grantflow migrate
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MetricsConfig Prometheus 指标
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup replaces os.LookupEnv, mainly for tests.
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 添加额外的验证器，在 Config.Validate 之后运行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载并验证配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, err
		}
	}
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, l.lookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// 空文件返回 io.EOF，视为没有覆盖项
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
	}
	return nil
}

// setFieldsFromEnv 按 env tag 递归覆盖字段，嵌套结构体的 key 用下划线拼接
func setFieldsFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := setFieldsFromEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}

		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
