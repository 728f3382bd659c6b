package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/grantflow/types"
)

// randomDAG 生成只依赖更早步骤的随机无环图，并随机挑选若干永久失败的步骤
func randomDAG(rt *rapid.T, counter *callCounter) (*Graph, map[string]bool) {
	n := rapid.IntRange(1, 10).Draw(rt, "steps")
	failSet := make(map[string]bool)
	steps := make([]Step, 0, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		var deps []string
		for j := 0; j < i; j++ {
			if rapid.Bool().Draw(rt, fmt.Sprintf("edge_%d_%d", j, i)) {
				deps = append(deps, fmt.Sprintf("s%d", j))
			}
		}
		fn := constant(i)
		if rapid.IntRange(0, 4).Draw(rt, fmt.Sprintf("fail_%d", i)) == 0 {
			failSet[id] = true
			fn = failing(types.NewValidationError("permanent"))
		}
		steps = append(steps, Step{
			ID:        id,
			Output:    id + "_out",
			DependsOn: deps,
			Run:       counter.wrap(id, fn),
		})
	}
	return NewGraph("random", steps...), failSet
}

// 属性 1 与属性 2
func TestProperty_ExecutorOutcomes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		counter := newCallCounter()
		g, failingSteps := randomDAG(rt, counter)

		res := newTestExecutor().Execute(context.Background(), g, nil)

		// 终止且状态与错误列表一致
		require.Equal(rt, len(res.Errors) == 0, res.Status == StatusSucceeded)
		require.Len(rt, res.Steps, g.Len())

		poisoned := make(map[string]string)
		for _, s := range g.Steps() {
			if failingSteps[s.ID] && poisoned[s.ID] == "" {
				for _, d := range g.Descendants(s.ID) {
					if poisoned[d] == "" {
						poisoned[d] = s.ID
					}
				}
			}
		}

		for _, s := range g.Steps() {
			rep, _ := res.Report(s.ID)
			switch {
			case poisoned[s.ID] != "":
				require.Zero(rt, counter.count(s.ID), "descendant %s invoked", s.ID)
				e, ok := res.ErrorFor(s.ID)
				require.True(rt, ok)
				require.Equal(rt, types.KindUpstreamFailure, e.Kind)
				require.Equal(rt, StepSkipped, rep.Status)
			case failingSteps[s.ID]:
				require.Equal(rt, 1, counter.count(s.ID))
				require.Equal(rt, StepFailed, rep.Status)
			default:
				require.Equal(rt, 1, counter.count(s.ID))
				require.Equal(rt, StepSucceeded, rep.Status)
				_, ok := res.Outputs[s.Output]
				require.True(rt, ok)
			}
		}

		if len(failingSteps) == 0 {
			require.Equal(rt, StatusSucceeded, res.Status)
		}
	})
}

// 输出写入先于下游调度：任何步骤看到的输入都已是生产者的最终值
func TestProperty_OutputsVisibleToDependents(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "chain")
		steps := make([]Step, 0, n)
		steps = append(steps, Step{ID: "s0", Output: "k0", Run: constant(0)})
		for i := 1; i < n; i++ {
			in := fmt.Sprintf("k%d", i-1)
			steps = append(steps, Step{
				ID:     fmt.Sprintf("s%d", i),
				Inputs: []string{in},
				Output: fmt.Sprintf("k%d", i),
				Run: func(ctx context.Context, inputs Inputs) (any, error) {
					v, err := InputAs[int](inputs, in)
					if err != nil {
						return nil, err
					}
					return v + 1, nil
				},
			})
		}

		res := newTestExecutor().Execute(context.Background(), NewGraph("chain", steps...), nil)
		require.Equal(rt, StatusSucceeded, res.Status)
		require.Equal(rt, n-1, res.Outputs[fmt.Sprintf("k%d", n-1)])
	})
}
