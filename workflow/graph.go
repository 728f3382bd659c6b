package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/grantflow/types"
)

// 图校验错误
var (
	ErrEmptyGraph        = errors.New("graph has no steps")
	ErrEmptyStepID       = errors.New("step id is empty")
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrMissingOutput     = errors.New("step declares no output key")
	ErrDuplicateOutput   = errors.New("output key produced by more than one step")
	ErrOutputShadows     = errors.New("output key shadows a payload key")
	ErrNilStepFunc       = errors.New("step has no work function")
	ErrUnknownDependency = errors.New("dependency references an unknown step")
	ErrSelfDependency    = errors.New("step depends on itself")
	ErrCycle             = errors.New("dependency cycle")
	ErrMissingInput      = errors.New("input key is neither produced by a step nor present in the payload")
)

// Issue is one validation problem attributed to a step. StepID is empty for graph-level issues.
type Issue struct {
	StepID string
	Err    error
}

func (i Issue) Error() string {
	if i.StepID == "" {
		return i.Err.Error()
	}
	return fmt.Sprintf("step %s: %v", i.StepID, i.Err)
}

func (i Issue) Unwrap() error { return i.Err }

// Graph 工作流图：有序步骤 + 输出键到生产者的映射。
// 创建后只读，可被多次并发执行
type Graph struct {
	name       string
	steps      []*Step
	index      map[string]int
	producers  map[string]string   // output key -> step id
	deps       map[string][]string // step id -> 显式与隐式依赖（去重、有序）
	dependents map[string][]string // step id -> 直接下游
}

// NewGraph indexes steps without validating them. Call Validate before executing, or use
// Builder which validates the structure on Build.
func NewGraph(name string, steps ...Step) *Graph {
	g := &Graph{
		name:       name,
		steps:      make([]*Step, 0, len(steps)),
		index:      make(map[string]int, len(steps)),
		producers:  make(map[string]string, len(steps)),
		deps:       make(map[string][]string, len(steps)),
		dependents: make(map[string][]string, len(steps)),
	}
	for i := range steps {
		s := steps[i]
		g.steps = append(g.steps, &s)
		if _, dup := g.index[s.ID]; !dup {
			g.index[s.ID] = len(g.steps) - 1
		}
		if s.Output != "" {
			if _, dup := g.producers[s.Output]; !dup {
				g.producers[s.Output] = s.ID
			}
		}
	}

	for _, s := range g.steps {
		seen := make(map[string]bool)
		var deps []string
		add := func(id string) {
			if id == "" || seen[id] {
				return
			}
			seen[id] = true
			deps = append(deps, id)
		}
		for _, d := range s.DependsOn {
			add(d)
		}
		for _, in := range s.Inputs {
			if p, ok := g.producers[in]; ok && p != s.ID {
				add(p)
			}
		}
		g.deps[s.ID] = deps
		for _, d := range deps {
			if _, ok := g.index[d]; ok {
				g.dependents[d] = appendUnique(g.dependents[d], s.ID)
			}
		}
	}
	return g
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// Steps returns the steps in declaration order.
func (g *Graph) Steps() []*Step { return g.steps }

// Step looks a step up by ID.
func (g *Graph) Step(id string) (*Step, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.steps[i], true
}

// Producer returns the ID of the step producing key.
func (g *Graph) Producer(key string) (string, bool) {
	id, ok := g.producers[key]
	return id, ok
}

// Dependencies returns the explicit and implicit dependencies of a step.
func (g *Graph) Dependencies(id string) []string { return g.deps[id] }

// Dependents returns the direct dependents of a step.
func (g *Graph) Dependents(id string) []string { return g.dependents[id] }

// Terminal reports whether no step depends on id.
func (g *Graph) Terminal(id string) bool { return len(g.dependents[id]) == 0 }

// Descendants returns every transitive dependent of id in declaration order.
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.dependents[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for _, s := range g.steps {
		if seen[s.ID] {
			out = append(out, s.ID)
			delete(seen, s.ID)
		}
	}
	return out
}

// Validate checks the graph against the keys available in the initial payload and returns
// every problem found. A nil payload skips the payload-dependent checks.
func (g *Graph) Validate(payload map[string]any) []Issue {
	var issues []Issue
	if len(g.steps) == 0 {
		return []Issue{{Err: ErrEmptyGraph}}
	}

	ids := make(map[string]int)
	outputs := make(map[string]int)
	for _, s := range g.steps {
		ids[s.ID]++
		if s.Output != "" {
			outputs[s.Output]++
		}
	}

	for _, s := range g.steps {
		if s.ID == "" {
			issues = append(issues, Issue{Err: ErrEmptyStepID})
			continue
		}
		if ids[s.ID] > 1 {
			issues = append(issues, Issue{StepID: s.ID, Err: ErrDuplicateStep})
		}
		if s.Run == nil {
			issues = append(issues, Issue{StepID: s.ID, Err: ErrNilStepFunc})
		}
		switch {
		case s.Output == "":
			issues = append(issues, Issue{StepID: s.ID, Err: ErrMissingOutput})
		case outputs[s.Output] > 1:
			issues = append(issues, Issue{StepID: s.ID, Err: fmt.Errorf("%w: %s", ErrDuplicateOutput, s.Output)})
		}
		if payload != nil && s.Output != "" {
			if _, ok := payload[s.Output]; ok {
				issues = append(issues, Issue{StepID: s.ID, Err: fmt.Errorf("%w: %s", ErrOutputShadows, s.Output)})
			}
		}
		for _, d := range s.DependsOn {
			switch {
			case d == s.ID:
				issues = append(issues, Issue{StepID: s.ID, Err: ErrSelfDependency})
			case ids[d] == 0:
				issues = append(issues, Issue{StepID: s.ID, Err: fmt.Errorf("%w: %s", ErrUnknownDependency, d)})
			}
		}
		for _, in := range s.Inputs {
			p, produced := g.producers[in]
			if produced && p == s.ID {
				issues = append(issues, Issue{StepID: s.ID, Err: ErrSelfDependency})
				continue
			}
			if produced || payload == nil {
				continue
			}
			if _, ok := payload[in]; !ok {
				issues = append(issues, Issue{StepID: s.ID, Err: fmt.Errorf("%w: %s", ErrMissingInput, in)})
			}
		}
	}

	for _, id := range g.cycleMembers() {
		issues = append(issues, Issue{StepID: id, Err: ErrCycle})
	}
	return issues
}

// cycleMembers 使用 DFS 找出位于环上的步骤
func (g *Graph) cycleMembers() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.steps))
	onCycle := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, d := range g.deps[id] {
			if _, ok := g.index[d]; !ok || d == id {
				continue
			}
			switch color[d] {
			case white:
				visit(d)
			case grey:
				// 回边：栈中从 d 到栈顶的节点都在环上
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == d {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, s := range g.steps {
		if color[s.ID] == white {
			visit(s.ID)
		}
	}

	var out []string
	for _, s := range g.steps {
		if onCycle[s.ID] {
			out = append(out, s.ID)
			delete(onCycle, s.ID)
		}
	}
	return out
}

// Layers groups steps by depth: layer 0 has no dependencies, layer n depends only on earlier
// layers. Steps within a layer keep declaration order. Only valid for acyclic graphs.
func (g *Graph) Layers() [][]string {
	depth := make(map[string]int, len(g.steps))
	var depthOf func(id string, guard map[string]bool) int
	depthOf = func(id string, guard map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if guard[id] {
			return 0
		}
		guard[id] = true
		d := 0
		for _, dep := range g.deps[id] {
			if _, ok := g.index[dep]; !ok {
				continue
			}
			if dd := depthOf(dep, guard) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := -1
	for _, s := range g.steps {
		if d := depthOf(s.ID, make(map[string]bool)); d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]string, maxDepth+1)
	for _, s := range g.steps {
		d := depth[s.ID]
		layers[d] = append(layers[d], s.ID)
	}
	return layers
}

// TerminalOutputs returns the output keys of steps no other step depends on, sorted.
func (g *Graph) TerminalOutputs() []string {
	var keys []string
	for _, s := range g.steps {
		if g.Terminal(s.ID) && s.Output != "" {
			keys = append(keys, s.Output)
		}
	}
	sort.Strings(keys)
	return keys
}

// IssuesError joins issues into one validation error.
func IssuesError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	errs := make([]error, len(issues))
	for i, is := range issues {
		errs[i] = is
	}
	return types.NewValidationError("invalid workflow graph").WithCause(errors.Join(errs...))
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func validationf(format string, args ...any) error {
	return types.Errorf(types.KindValidation, format, args...)
}
