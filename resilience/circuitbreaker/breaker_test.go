package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/grantflow/types"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(clock *fakeClock) *Registry {
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	return NewRegistry(cfg, zap.NewNop())
}

var errThrottled = types.NewTransientError("X", "throttled")

func fail(ctx context.Context) error    { return errThrottled }
func succeed(ctx context.Context) error { return nil }

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())

	for _, s := range []State{StateClosed, StateOpen, StateHalfOpen} {
		parsed, ok := ParseState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}
	_, ok := ParseState("melted")
	assert.False(t, ok)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.FailureWindow)
	assert.Equal(t, 30*time.Second, cfg.OpenTimeout)
	assert.Equal(t, 2, cfg.SuccessThreshold)
}

// ---------------------------------------------------------------------------
// 状态机
// ---------------------------------------------------------------------------

func TestRegistry_OpensAfterFiveFailuresAndRecovers(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := reg.Guard(ctx, "X", fail)
		assert.ErrorIs(t, err, errThrottled)
		clock.Advance(time.Second)
	}

	snap, ok := reg.State("X")
	require.True(t, ok)
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 5, snap.ConsecutiveFailures)

	// 30s 内直接拒绝，不调用
	var invoked int32
	for i := 0; i < 3; i++ {
		err := reg.Guard(ctx, "X", func(ctx context.Context) error {
			atomic.AddInt32(&invoked, 1)
			return nil
		})
		assert.Equal(t, types.KindCircuitOpen, types.KindOf(err))
		assert.ErrorIs(t, err, ErrCircuitOpen)
		clock.Advance(9 * time.Second)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))

	// 30s 后允许一次试探
	clock.Advance(4 * time.Second)
	require.NoError(t, reg.Guard(ctx, "X", succeed))
	snap, _ = reg.State("X")
	assert.Equal(t, StateHalfOpen, snap.State)
	assert.Equal(t, 1, snap.ConsecutiveSuccesses)

	require.NoError(t, reg.Guard(ctx, "X", succeed))
	snap, _ = reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Zero(t, snap.ConsecutiveSuccesses)
}

func TestRegistry_FailuresOutsideWindowDoNotOpen(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_ = reg.Guard(ctx, "X", fail)
		clock.Advance(20 * time.Second)
	}

	snap, _ := reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 8, snap.ConsecutiveFailures)
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = reg.Guard(ctx, "X", fail)
	}
	require.NoError(t, reg.Guard(ctx, "X", succeed))
	for i := 0; i < 4; i++ {
		_ = reg.Guard(ctx, "X", fail)
	}

	snap, _ := reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 4, snap.ConsecutiveFailures)
	assert.Zero(t, snap.ConsecutiveSuccesses)
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	reg.Seed("X", StateOpen)
	clock.Advance(30 * time.Second)

	err := reg.Guard(ctx, "X", fail)
	assert.ErrorIs(t, err, errThrottled)

	snap, _ := reg.State("X")
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.LastTransition)

	// 重新计时
	clock.Advance(29 * time.Second)
	assert.Equal(t, types.KindCircuitOpen, types.KindOf(reg.Guard(ctx, "X", succeed)))
}

func TestRegistry_CallerErrorsCountAsSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", types.NewValidationError("bad")},
		{"authorization", types.NewError(types.KindAuthorization, "denied")},
		{"not_found", types.NewNotFoundError("gone")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(newFakeClock())
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				err := reg.Guard(ctx, "X", func(ctx context.Context) error { return tt.err })
				assert.ErrorIs(t, err, tt.err)
			}
			snap, _ := reg.State("X")
			assert.Equal(t, StateClosed, snap.State)
			assert.Zero(t, snap.ConsecutiveFailures)
			assert.Equal(t, 10, snap.ConsecutiveSuccesses)
		})
	}
}

func TestRegistry_InternalErrorsCountAsFailures(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	for i := 0; i < 5; i++ {
		_ = reg.Guard(context.Background(), "X", func(ctx context.Context) error {
			return errors.New("boom")
		})
	}
	snap, _ := reg.State("X")
	assert.Equal(t, StateOpen, snap.State)
}

func TestRegistry_CancelledCallsIgnored(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	for i := 0; i < 10; i++ {
		_ = reg.Guard(context.Background(), "X", func(ctx context.Context) error {
			return fmt.Errorf("stopped: %w", context.Canceled)
		})
	}
	snap, _ := reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Zero(t, snap.ConsecutiveSuccesses)
}

func TestRegistry_HalfOpenAllowsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	reg.Seed("X", StateOpen)
	clock.Advance(31 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- reg.Guard(ctx, "X", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// 试探进行中，其它调用被拒绝
	var invoked int32
	for i := 0; i < 5; i++ {
		err := reg.Guard(ctx, "X", func(ctx context.Context) error {
			atomic.AddInt32(&invoked, 1)
			return nil
		})
		assert.Equal(t, types.KindCircuitOpen, types.KindOf(err))
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked))

	close(release)
	require.NoError(t, <-done)

	// 试探结束后下一个调用成为新的试探
	require.NoError(t, reg.Guard(ctx, "X", succeed))
	snap, _ := reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
}

func TestRegistry_PanickingTrialReleasesHalfOpen(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)
	ctx := context.Background()

	reg.Seed("X", StateOpen)
	clock.Advance(30 * time.Second)

	assert.PanicsWithValue(t, "worker crashed", func() {
		_ = reg.Guard(ctx, "X", func(ctx context.Context) error {
			panic("worker crashed")
		})
	})

	// panic 按失败记录：重新打开并重新计时
	snap, _ := reg.State("X")
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.LastTransition)

	clock.Advance(30 * time.Second)
	require.NoError(t, reg.Guard(ctx, "X", succeed))
	require.NoError(t, reg.Guard(ctx, "X", succeed))
	snap, _ = reg.State("X")
	assert.Equal(t, StateClosed, snap.State)
}

func TestRegistry_PanicInClosedStateCountsAsFailure(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	for i := 0; i < 5; i++ {
		func() {
			defer func() { _ = recover() }()
			_ = reg.Guard(context.Background(), "X", func(ctx context.Context) error {
				panic("boom")
			})
		}()
	}
	snap, _ := reg.State("X")
	assert.Equal(t, StateOpen, snap.State)
}

func TestRegistry_EmptyNameIsUngated(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	for i := 0; i < 10; i++ {
		_ = reg.Guard(context.Background(), "", fail)
	}
	require.NoError(t, reg.Guard(context.Background(), "", succeed))
	assert.Empty(t, reg.Names())
}

// ---------------------------------------------------------------------------
// Registry 管理操作
// ---------------------------------------------------------------------------

func TestRegistry_StateUnknownName(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	snap, ok := reg.State("never-called")
	assert.False(t, ok)
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, "never-called", snap.Name)
}

func TestRegistry_ResetAndResetAll(t *testing.T) {
	reg := newTestRegistry(newFakeClock())
	reg.Seed("a", StateOpen)
	reg.Seed("b", StateHalfOpen)
	reg.Seed("c", StateOpen)

	reg.Reset("a")
	s, _ := reg.State("a")
	assert.Equal(t, StateClosed, s.State)

	reg.ResetAll()
	for _, snap := range reg.Snapshots() {
		assert.Equal(t, StateClosed, snap.State, snap.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
}

func TestRegistry_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Now = clock.Now

	var mu sync.Mutex
	var events []string
	cfg.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		events = append(events, fmt.Sprintf("%s:%s->%s", name, from, to))
		mu.Unlock()
	}
	reg := NewRegistry(cfg, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = reg.Guard(ctx, "search", fail)
	}
	clock.Advance(30 * time.Second)
	_ = reg.Guard(ctx, "search", succeed)
	_ = reg.Guard(ctx, "search", succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"search:closed->open",
		"search:open->half_open",
		"search:half_open->closed",
	}, events)
}

func TestGuardTyped(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	v, err := GuardTyped(reg, context.Background(), "embedding", func(ctx context.Context) ([]float64, error) {
		return []float64{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)

	reg.Seed("embedding", StateOpen)
	v, err = GuardTyped(reg, context.Background(), "embedding", func(ctx context.Context) ([]float64, error) {
		t.Fatal("must not be invoked")
		return nil, nil
	})
	assert.Nil(t, v)
	assert.True(t, types.IsKind(err, types.KindCircuitOpen))
}

// ---------------------------------------------------------------------------
// 并发
// ---------------------------------------------------------------------------

func TestRegistry_ConcurrentNames(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			name := fmt.Sprintf("dep-%d", g%4)
			for i := 0; i < 200; i++ {
				if i%3 == 0 {
					_ = reg.Guard(ctx, name, fail)
				} else {
					_ = reg.Guard(ctx, name, succeed)
				}
				_, _ = reg.State(name)
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, reg.Names(), 4)
}

// ---------------------------------------------------------------------------
// 属性测试
// ---------------------------------------------------------------------------

// 任意调用序列下：计数不会同时非零；Open 状态在超时前从不调用 fn
func TestProperty_BreakerInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock)
		ctx := context.Background()

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before, _ := reg.State("X")

			invoked := false
			outcome := rapid.SampledFrom([]string{"ok", "transient", "validation"}).Draw(rt, fmt.Sprintf("outcome_%d", i))
			err := reg.Guard(ctx, "X", func(ctx context.Context) error {
				invoked = true
				switch outcome {
				case "transient":
					return errThrottled
				case "validation":
					return types.NewValidationError("bad")
				}
				return nil
			})

			if before.State == StateOpen && clock.Now().Sub(before.LastTransition) < 30*time.Second {
				require.False(rt, invoked, "open breaker must not invoke")
				require.True(rt, types.IsKind(err, types.KindCircuitOpen))
			}

			after, _ := reg.State("X")
			require.False(rt, after.ConsecutiveFailures > 0 && after.ConsecutiveSuccesses > 0,
				"counters must not both be non-zero: %+v", after)
			if after.State == StateClosed && before.State == StateHalfOpen {
				require.NotEqual(rt, "transient", outcome, "a failed trial never closes")
			}

			clock.Advance(time.Duration(rapid.IntRange(0, 20).Draw(rt, fmt.Sprintf("advance_%d", i))) * time.Second)
		}
	})
}
