package ranking

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workers"
	"github.com/BaSui01/grantflow/workflow"
)

// Keys read and written by the ranking steps.
const (
	KeyQuery       = "query"
	KeyProfile     = "profile"
	KeyQueryVector = "query_vector"
	KeyMatches     = "candidate_matches"
	KeyShortlist   = "shortlist"
)

// Step IDs.
const (
	StepEmbedQuery       = "embed_query"
	StepSearchCandidates = "search_candidates"
	StepRankGrants       = "rank_grants"
)

// Pipeline ranks funding opportunities for a free-text query. Embedding and retrieval run as
// guarded workflow steps; scoring is a pure step on their output.
type Pipeline struct {
	embedder workers.Embedder
	searcher workers.Searcher
	executor *workflow.Executor
	cfg      Config
	onRanked func(Ranking)
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig sets the pool size, shortlist size and weights.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg.normalized() }
}

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// OnRanked registers a callback invoked with every produced ranking.
func OnRanked(fn func(Ranking)) Option {
	return func(p *Pipeline) { p.onRanked = fn }
}

// NewPipeline creates a ranking pipeline. The executor supplies retry and circuit breaking.
func NewPipeline(embedder workers.Embedder, searcher workers.Searcher, executor *workflow.Executor, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder: embedder,
		searcher: searcher,
		executor: executor,
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.executor == nil {
		p.executor = workflow.NewExecutor(workflow.WithLogger(p.logger))
	}
	p.logger = p.logger.With(zap.String("component", "ranking_pipeline"))
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Steps returns embed_query -> search_candidates -> rank_grants. They read KeyQuery and
// KeyProfile and write KeyShortlist, so callers can inline them into larger graphs.
func (p *Pipeline) Steps() []workflow.Step {
	return []workflow.Step{
		{
			ID:         StepEmbedQuery,
			Inputs:     []string{KeyQuery},
			Output:     KeyQueryVector,
			Dependency: workers.WorkerEmbedding,
			Run:        p.embedQuery,
		},
		{
			ID:         StepSearchCandidates,
			Inputs:     []string{KeyQueryVector},
			Output:     KeyMatches,
			Dependency: workers.WorkerSearch,
			Run:        p.searchCandidates,
		},
		{
			ID:     StepRankGrants,
			Inputs: []string{KeyMatches, KeyProfile},
			Output: KeyShortlist,
			Run:    p.rankGrants,
		},
	}
}

func (p *Pipeline) embedQuery(ctx context.Context, in workflow.Inputs) (any, error) {
	q, err := in.String(KeyQuery)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q) == "" {
		return nil, types.NewValidationError("query is empty")
	}
	return p.embedder.EmbedText(ctx, q)
}

func (p *Pipeline) searchCandidates(ctx context.Context, in workflow.Inputs) (any, error) {
	vec, err := workflow.InputAs[[]float64](in, KeyQueryVector)
	if err != nil {
		return nil, err
	}
	return p.searcher.SearchSimilar(ctx, vec, p.cfg.PoolSize)
}

func (p *Pipeline) rankGrants(ctx context.Context, in workflow.Inputs) (any, error) {
	matches, err := workflow.InputAs[[]workers.Match](in, KeyMatches)
	if err != nil {
		return nil, err
	}
	raw, _ := in.Get(KeyProfile)
	profile, err := ParseProfile(raw)
	if err != nil {
		return nil, err
	}

	r := Score(matches, profile, p.cfg)
	runID, _ := types.RunID(ctx)
	p.logger.Debug("candidates ranked",
		zap.String("run_id", runID),
		zap.Int("pool", len(matches)),
		zap.Int("shortlist", r.Len()))
	if p.onRanked != nil {
		p.onRanked(r)
	}
	return r, nil
}

// Graph builds the standalone ranking graph.
func (p *Pipeline) Graph() (*workflow.Graph, error) {
	b := workflow.NewBuilder("ranking").WithLogger(p.logger)
	for _, s := range p.Steps() {
		b.Add(s)
	}
	return b.Build()
}

// Rank runs the ranking graph for query and profile. On failure the error carries the kind
// of the first failed step.
func (p *Pipeline) Rank(ctx context.Context, query string, profile Profile) (Ranking, error) {
	if strings.TrimSpace(query) == "" {
		return Ranking{}, types.NewValidationError("query is empty")
	}
	g, err := p.Graph()
	if err != nil {
		return Ranking{}, types.NewError(types.KindInternal, "ranking graph invalid").WithCause(err)
	}

	res := p.executor.Execute(ctx, g, map[string]any{
		KeyQuery:   query,
		KeyProfile: profile,
	})
	if r, ok := workflow.OutputAs[Ranking](res, KeyShortlist); ok {
		return r, nil
	}
	if len(res.Errors) > 0 {
		first := res.Errors[0]
		return Ranking{}, types.NewError(first.Kind, first.Message).WithCause(first)
	}
	return Ranking{}, types.NewError(types.KindInternal, "ranking produced no shortlist")
}
