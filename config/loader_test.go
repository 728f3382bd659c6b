package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grantflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// --- 加载器测试 ---

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_EmptyFile(t *testing.T) {
	path := writeYAML(t, "")
	cfg, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_YAMLOverrides(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: ":9000"
workflow:
  search_budget: 3s
  max_concurrency: 2
ranking:
  shortlist_size: 3
  weights:
    similarity: 0.5
    category: 0.3
    geography: 0.2
compliance:
  window_days: 14
log:
  level: debug
  format: console
`)
	cfg, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Workflow.SearchBudget)
	assert.Equal(t, 2, cfg.Workflow.MaxConcurrency)
	// 未出现的字段保留默认值
	assert.Equal(t, 60*time.Second, cfg.Workflow.GenerationBudget)
	assert.Equal(t, 3, cfg.Ranking.ShortlistSize)
	assert.Equal(t, 20, cfg.Ranking.PoolSize)
	assert.InDelta(t, 0.3, cfg.Ranking.Weights.Category, 1e-9)
	assert.Equal(t, 14, cfg.Compliance.WindowDays)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_UnknownYAMLField(t *testing.T) {
	path := writeYAML(t, "workflow:\n  max_concurency: 2\n")
	_, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurency")
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeYAML(t, "server: [unclosed")
	_, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	assert.Error(t, err)
}

// --- 环境变量测试 ---

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, "server:\n  addr: \":9000\"\n")
	env := envMap(map[string]string{
		"GRANTFLOW_SERVER_ADDR":                "127.0.0.1:7000",
		"GRANTFLOW_WORKFLOW_SEARCH_BUDGET":     "2s",
		"GRANTFLOW_RANKING_WEIGHTS_SIMILARITY": "0.9",
		"GRANTFLOW_RETRY_MAX_RETRIES":          "1",
		"GRANTFLOW_RETRY_JITTER":               "true",
		"GRANTFLOW_LOG_OUTPUT_PATHS":           "stdout, /tmp/grantflow.log",
		"GRANTFLOW_RATE_LIMIT_BURST":           "5",
		"GRANTFLOW_TELEMETRY_SAMPLE_RATE":      "0.5",
	})
	cfg, err := NewLoader().WithConfigPath(path).WithEnvLookup(env).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Workflow.SearchBudget)
	assert.InDelta(t, 0.9, cfg.Ranking.Weights.Similarity, 1e-9)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, []string{"stdout", "/tmp/grantflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 1e-9)
}

func TestLoader_CustomPrefix(t *testing.T) {
	env := envMap(map[string]string{
		"GF_SERVER_ADDR":        ":1234",
		"GRANTFLOW_SERVER_ADDR": ":9999",
	})
	cfg, err := NewLoader().WithEnvPrefix("GF").WithEnvLookup(env).Load()
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.Server.Addr)
}

func TestLoader_BadEnvValue(t *testing.T) {
	tests := map[string]string{
		"GRANTFLOW_WORKFLOW_MAX_CONCURRENCY": "many",
		"GRANTFLOW_WORKFLOW_SEARCH_BUDGET":   "soon",
		"GRANTFLOW_METRICS_ENABLED":          "maybe",
		"GRANTFLOW_RANKING_WEIGHTS_CATEGORY": "x",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := NewLoader().WithEnvLookup(envMap(map[string]string{key: val})).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoader_OsEnv(t *testing.T) {
	t.Setenv("GRANTFLOW_AUDIT_BACKEND", "none")
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, AuditNone, cfg.Audit.Backend)
}

// --- 验证测试 ---

func TestLoader_ValidationFailure(t *testing.T) {
	env := envMap(map[string]string{"GRANTFLOW_LOG_LEVEL": "verbose"})
	_, err := NewLoader().WithEnvLookup(env).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithEnvLookup(envMap(nil)).
		WithValidator(func(c *Config) error {
			called = true
			if c.Workers.CatalogPath == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.True(t, called)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMustLoad(t *testing.T) {
	path := writeYAML(t, "log:\n  level: chatty\n")
	assert.Panics(t, func() { MustLoad(path) })

	ok := writeYAML(t, "log:\n  level: warn\n")
	assert.Equal(t, "warn", MustLoad(ok).Log.Level)
}
