package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（直接拒绝）
	StateOpen
	// StateHalfOpen 半开状态（单个试探调用）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	st, ok := ParseState(string(text))
	if !ok {
		return types.Errorf(types.KindValidation, "unknown circuit state %q", text)
	}
	*s = st
	return nil
}

// ParseState parses closed / open / half_open.
func ParseState(s string) (State, bool) {
	switch s {
	case "closed":
		return StateClosed, true
	case "open":
		return StateOpen, true
	case "half_open":
		return StateHalfOpen, true
	}
	return StateClosed, false
}

// ErrCircuitOpen is the cause of every rejection issued by an open or busy half-open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Outcome 熔断器视角下一次调用的结果
type Outcome int

const (
	// OutcomeSuccess 依赖健康（包括调用方自身错误）
	OutcomeSuccess Outcome = iota
	// OutcomeFailure 依赖故障
	OutcomeFailure
	// OutcomeIgnored 调用被取消，不计入统计
	OutcomeIgnored
)

// Classify is the default outcome classifier. validation / authorization / not_found are the
// caller's fault and count as success; cancellation is ignored; everything else is a failure.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	kind := types.KindOf(err)
	switch {
	case kind.CallerFault():
		return OutcomeSuccess
	case kind == types.KindCancelled:
		return OutcomeIgnored
	default:
		return OutcomeFailure
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 窗口内连续失败次数阈值
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// FailureWindow 统计失败的滑动窗口
	FailureWindow time.Duration `json:"failure_window" yaml:"failure_window" env:"FAILURE_WINDOW"`
	// OpenTimeout 从 Open 进入 HalfOpen 的等待时间
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" env:"OPEN_TIMEOUT"`
	// SuccessThreshold 半开状态下恢复所需的连续成功次数
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`

	// Classify 将调用错误映射为 Outcome；为空时使用包级 Classify
	Classify func(error) Outcome `json:"-" yaml:"-"`
	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from, to State) `json:"-" yaml:"-"`
	// Now 时钟，测试中可替换
	Now func() time.Time `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认配置：60s 内 5 次失败打开，30s 后半开，2 次成功关闭
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c Config) normalized() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 60 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Classify == nil {
		c.Classify = Classify
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Snapshot is a point-in-time copy of one breaker's state.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastTransition       time.Time `json:"last_transition"`
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	failureTimes         []time.Time // 本轮连续失败的发生时间
	lastTransition       time.Time
	trialInFlight        bool
}

// NewBreaker 创建熔断器
func NewBreaker(name string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.normalized()
	return &Breaker{
		name:           name,
		config:         cfg,
		logger:         logger.With(zap.String("dependency", name)),
		state:          StateClosed,
		lastTransition: cfg.Now(),
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

type transition struct {
	from, to State
}

// Do 执行受保护的调用。被拒绝时返回 circuit_open 错误且不调用 fn；
// fn 的错误原样返回
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}

	outcome := OutcomeFailure
	// fn panic 时按失败记录，否则半开试探位永远不会释放
	defer func() { b.record(trial, outcome) }()

	callErr := fn(ctx)
	outcome = b.config.Classify(callErr)
	return callErr
}

// acquire 调用前检查
func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	var tr *transition
	trial := false
	var err error

	switch b.state {
	case StateClosed:
	case StateOpen:
		if b.config.Now().Sub(b.lastTransition) >= b.config.OpenTimeout {
			tr = b.transitionLocked(StateHalfOpen)
			b.trialInFlight = true
			trial = true
		} else {
			err = b.rejection()
		}
	case StateHalfOpen:
		if b.trialInFlight {
			err = b.rejection()
		} else {
			b.trialInFlight = true
			trial = true
		}
	}
	b.mu.Unlock()

	b.notify(tr)
	return trial, err
}

// record 调用后更新计数并在需要时转换状态
func (b *Breaker) record(trial bool, outcome Outcome) {
	b.mu.Lock()
	if trial {
		b.trialInFlight = false
	}

	var tr *transition
	switch outcome {
	case OutcomeIgnored:
	case OutcomeSuccess:
		tr = b.onSuccessLocked(trial)
	case OutcomeFailure:
		tr = b.onFailureLocked(trial)
	}
	b.mu.Unlock()

	b.notify(tr)
}

func (b *Breaker) onSuccessLocked(trial bool) *transition {
	switch b.state {
	case StateClosed:
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		b.failureTimes = b.failureTimes[:0]
	case StateHalfOpen:
		if !trial {
			return nil
		}
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			return b.transitionLocked(StateClosed)
		}
	case StateOpen:
		// 打开前放行的调用迟到的结果，不影响状态
	}
	return nil
}

func (b *Breaker) onFailureLocked(trial bool) *transition {
	now := b.config.Now()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		b.failureTimes = append(b.failureTimes, now)

		cutoff := now.Add(-b.config.FailureWindow)
		i := 0
		for i < len(b.failureTimes) && b.failureTimes[i].Before(cutoff) {
			i++
		}
		b.failureTimes = b.failureTimes[i:]

		if len(b.failureTimes) >= b.config.FailureThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failures", b.consecutiveFailures),
				zap.Duration("window", b.config.FailureWindow))
			return b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		if !trial {
			return nil
		}
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		b.logger.Warn("half-open trial failed, reopening circuit")
		return b.transitionLocked(StateOpen)
	case StateOpen:
	}
	return nil
}

// transitionLocked 切换状态（必须持有锁）
func (b *Breaker) transitionLocked(to State) *transition {
	from := b.state
	b.state = to
	b.lastTransition = b.config.Now()
	switch to {
	case StateClosed:
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
		b.failureTimes = b.failureTimes[:0]
	case StateHalfOpen:
		b.consecutiveSuccesses = 0
	case StateOpen:
		b.consecutiveSuccesses = 0
		b.failureTimes = b.failureTimes[:0]
	}

	b.logger.Info("circuit breaker state change",
		zap.String("old_state", from.String()),
		zap.String("new_state", to.String()))
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr != nil && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, tr.from, tr.to)
	}
}

func (b *Breaker) rejection() error {
	return types.NewError(types.KindCircuitOpen, "dependency temporarily unavailable").
		WithDependency(b.name).
		WithCause(ErrCircuitOpen)
}

// Snapshot 获取当前状态副本
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastTransition:       b.lastTransition,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.force(StateClosed)
}

// force 强制设置状态并清空计数
func (b *Breaker) force(state State) {
	b.mu.Lock()
	var tr *transition
	if b.state != state {
		tr = b.transitionLocked(state)
	} else {
		b.lastTransition = b.config.Now()
	}
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.failureTimes = b.failureTimes[:0]
	b.trialInFlight = false
	b.mu.Unlock()

	b.notify(tr)
}
