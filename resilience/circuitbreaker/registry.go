package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry 熔断器注册表，按依赖名称管理熔断器。
// 熔断器在首次调用时惰性创建，之后不会删除
type Registry struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry 创建熔断器注册表
func NewRegistry(config *Config, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config:   config.normalized(),
		logger:   logger.With(zap.String("component", "circuit_breaker")),
		breakers: make(map[string]*Breaker),
	}
}

// Breaker 获取或创建指定依赖的熔断器
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.config
	b := NewBreaker(name, &cfg, r.logger)
	r.breakers[name] = b
	return b
}

// Guard runs fn through the breaker for name. An empty name means the call is not gated.
func (r *Registry) Guard(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if name == "" {
		return fn(ctx)
	}
	return r.Breaker(name).Do(ctx, fn)
}

// State returns the snapshot for name, false if no call has created it yet.
func (r *Registry) State(name string) (Snapshot, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{Name: name, State: StateClosed}, false
	}
	return b.Snapshot(), true
}

// Snapshots 返回所有熔断器状态，按名称排序
func (r *Registry) Snapshots() []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, n := range names {
		if s, ok := r.State(n); ok {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the registered dependency names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset 将指定熔断器恢复为关闭状态
func (r *Registry) Reset(name string) {
	r.Breaker(name).Reset()
}

// Seed 强制设置指定熔断器的状态，计数清零，转换时间为当前时刻
func (r *Registry) Seed(name string, state State) {
	r.Breaker(name).force(state)
}

// ResetAll 重置所有熔断器
func (r *Registry) ResetAll() {
	r.mu.RLock()
	bs := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		bs = append(bs, b)
	}
	r.mu.RUnlock()

	for _, b := range bs {
		b.Reset()
	}
	r.logger.Info("all circuit breakers reset", zap.Int("count", len(bs)))
}
