package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// Policy 定义重试策略配置
// 默认值：初次失败后最多再试 3 次，延迟 min(5s, 100ms * 2^n)，n 为从 0 开始的重试序号
type Policy struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`       // 额外重试次数（0 表示不重试）
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" env:"INITIAL_DELAY"` // 第一次重试前的延迟
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay" env:"MAX_DELAY"`             // 最大延迟
	Multiplier   float64       `json:"multiplier" yaml:"multiplier" env:"MULTIPLIER"`          // 指数退避倍数
	Jitter       bool          `json:"jitter" yaml:"jitter" env:"JITTER"`                      // 是否添加 ±25% 随机抖动

	// Retryable 判断错误是否可重试；为空时使用 types.IsTransient
	Retryable func(error) bool `json:"-" yaml:"-"`
	// OnRetry 在每次退避前回调
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-" yaml:"-"`
	// Sleep 可替换的等待函数，测试中用于跳过真实等待
	Sleep func(ctx context.Context, d time.Duration) error `json:"-" yaml:"-"`
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// NoRetry returns a policy that makes a single attempt.
func NoRetry() *Policy {
	p := DefaultPolicy()
	p.MaxRetries = 0
	return p
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试，返回实际尝试次数
	Do(ctx context.Context, fn func(ctx context.Context) error) (int, error)

	// DoWithResult 执行函数并返回结果与实际尝试次数
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, int, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Retryable == nil {
		p.Retryable = types.IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}

	return &backoffRetryer{
		policy: p,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	_, attempts, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return attempts, err
}

// DoWithResult 实现 Retryer.DoWithResult
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, int, error) {
	var lastErr error
	attempts := 0

	for retryIndex := -1; retryIndex < r.policy.MaxRetries; retryIndex++ {
		// 第一次执行不延迟
		if retryIndex >= 0 {
			delay := r.Delay(retryIndex)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempts+1),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempts+1, lastErr, delay)
			}

			if err := r.policy.Sleep(ctx, delay); err != nil {
				return nil, attempts, interrupted(ctx, lastErr)
			}
		}

		attempts++
		result, err := fn(ctx)
		if err == nil {
			if attempts > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempts", attempts))
			}
			return result, attempts, nil
		}
		lastErr = err

		if !r.policy.Retryable(err) {
			r.logger.Debug("error is not retryable", zap.Error(err))
			return nil, attempts, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)

	return nil, attempts, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Delay returns the wait before the retry with the given zero-based index.
func (r *backoffRetryer) Delay(retryIndex int) time.Duration {
	return computeDelay(&r.policy, retryIndex)
}

// computeDelay 计算延迟时间：initial * multiplier^n，上限 MaxDelay，可选抖动
func computeDelay(p *Policy, retryIndex int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryIndex))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
		if delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// interrupted 将退避期间的取消转换为 cancelled / budget_exceeded
func interrupted(ctx context.Context, lastErr error) error {
	e := types.FromContext(ctx)
	if e == nil {
		e = types.NewError(types.KindCancelled, "retry interrupted")
	}
	e.Message = "retry interrupted: " + e.Message
	if lastErr != nil {
		e.Cause = lastErr
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
