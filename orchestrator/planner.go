package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/compliance"
	"github.com/BaSui01/grantflow/ranking"
	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workers"
	"github.com/BaSui01/grantflow/workflow"
)

// Step IDs of the planned graphs. The ranking steps keep the IDs of the ranking package.
const (
	StepFetchDocument      = "fetch_document"
	StepExtractFields      = "extract_fields"
	StepEvaluateCompliance = "evaluate_compliance"
	StepGateCompliance     = "gate_compliance"
	StepBuildPrompt        = "build_prompt"
	StepGenerateDraft      = "generate_draft"
	StepStoreDraft         = "store_draft"
	StepSummarizeProfile   = "summarize_profile"
	StepDraftApplication   = "draft_application"
)

// Extraction is the output of extract_fields.
type Extraction struct {
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
}

// DraftOptions 控制文档生成
type DraftOptions struct {
	Sections    []string `json:"sections,omitempty"`
	Format      string   `json:"format,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	// Store 为 true 时将草稿写入 blob 存储
	Store bool `json:"store,omitempty"`
}

// ParseDraftOptions accepts DraftOptions, *DraftOptions, nil or a decoded JSON object.
func ParseDraftOptions(v any) (DraftOptions, error) {
	switch o := v.(type) {
	case nil:
		return DraftOptions{}, nil
	case DraftOptions:
		return o, o.validate()
	case *DraftOptions:
		if o == nil {
			return DraftOptions{}, nil
		}
		return *o, o.validate()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return DraftOptions{}, types.NewValidationError("draft_options is not an object").WithCause(err)
	}
	var out DraftOptions
	if err := json.Unmarshal(raw, &out); err != nil {
		return DraftOptions{}, types.NewValidationError("draft_options is malformed").WithCause(err)
	}
	return out, out.validate()
}

func (o DraftOptions) validate() error {
	if o.MaxTokens < 0 {
		return types.NewValidationError("draft_options.max_tokens cannot be negative")
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return types.NewValidationError("draft_options.temperature must be within [0,2]")
	}
	switch o.Format {
	case "", "markdown", "plain":
	default:
		return types.Errorf(types.KindValidation, "draft_options.format %q is not markdown or plain", o.Format)
	}
	return nil
}

// PromptSpec is the output of build_prompt.
type PromptSpec struct {
	Prompt      string              `json:"prompt"`
	Constraints workers.Constraints `json:"constraints"`
}

// Workers are the collaborators the planner wires into steps. Blobs is optional.
type Workers struct {
	Extractor workers.Extractor
	Embedder  workers.Embedder
	Searcher  workers.Searcher
	Generator workers.Generator
	Blobs     workers.BlobStore
}

// Planner turns a request into a workflow graph.
type Planner struct {
	w         Workers
	ranking   *ranking.Pipeline
	evaluator *compliance.Evaluator
	now       func() time.Time
	logger    *zap.Logger

	rankingCfg    ranking.Config
	complianceCfg compliance.Config
	onRanked      func(ranking.Ranking)
	budgets       Budgets
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

func WithRankingConfig(cfg ranking.Config) PlannerOption {
	return func(p *Planner) { p.rankingCfg = cfg }
}

func WithComplianceConfig(cfg compliance.Config) PlannerOption {
	return func(p *Planner) { p.complianceCfg = cfg }
}

// WithPlannerClock 替换合规评估使用的当前时间
func WithPlannerClock(now func() time.Time) PlannerOption {
	return func(p *Planner) { p.now = now }
}

func WithPlannerLogger(logger *zap.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPlannerBudgets 设置外部调用步骤的单次尝试上限，取请求所属预算类别的时长
func WithPlannerBudgets(b Budgets) PlannerOption {
	return func(p *Planner) { p.budgets = b }
}

// WithRankingObserver is called with every shortlist produced by rank_grants.
func WithRankingObserver(fn func(ranking.Ranking)) PlannerOption {
	return func(p *Planner) { p.onRanked = fn }
}

// NewPlanner 创建规划器；除 Blobs 外的 worker 均为必填
func NewPlanner(w Workers, opts ...PlannerOption) (*Planner, error) {
	var missing []string
	if w.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if w.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if w.Searcher == nil {
		missing = append(missing, "searcher")
	}
	if w.Generator == nil {
		missing = append(missing, "generator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("planner: missing workers: %s", strings.Join(missing, ", "))
	}

	p := &Planner{
		w:             w,
		now:           time.Now,
		logger:        zap.NewNop(),
		rankingCfg:    ranking.DefaultConfig(),
		complianceCfg: compliance.DefaultConfig(),
		budgets:       DefaultBudgets(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "planner"))

	rankOpts := []ranking.Option{ranking.WithConfig(p.rankingCfg), ranking.WithLogger(p.logger)}
	if p.onRanked != nil {
		rankOpts = append(rankOpts, ranking.OnRanked(p.onRanked))
	}
	p.ranking = ranking.NewPipeline(w.Embedder, w.Searcher, nil, rankOpts...)
	p.evaluator = compliance.NewEvaluator(p.complianceCfg)
	return p, nil
}

// Plan validates payload and builds the graph for requestType. It returns the payload the
// graph expects, with optional keys filled in.
func (p *Planner) Plan(requestType string, payload map[string]any) (*workflow.Graph, map[string]any, error) {
	if err := ValidatePayload(requestType, payload); err != nil {
		return nil, nil, err
	}
	in := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		in[k] = v
	}

	// 单次尝试在 WithoutCancel 下运行，必须有自己的上限
	class, _ := BudgetFor(requestType)
	limit := p.budgets.of(class)

	b := workflow.NewBuilder(requestType).WithLogger(p.logger)
	var err error
	switch requestType {
	case RequestComplianceCheck:
		err = p.planCompliance(b, in, limit)
	case RequestGrantSearch:
		p.planSearch(b, in, limit)
	case RequestDocumentDraft:
		err = p.planDraft(b, in, limit)
	case RequestGrantApplication:
		if err = p.planCompliance(b, in, limit); err == nil {
			p.planSearch(b, in, limit)
			p.planApplication(b, limit)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	g, err := b.Build()
	if err != nil {
		return nil, nil, types.NewError(types.KindInternal, "planned graph is invalid").WithCause(err)
	}
	p.logger.Debug("workflow planned", zap.String("request_type", requestType), zap.Int("steps", g.Len()))
	return g, in, nil
}

// =============================================================================
// 🧩 各请求类型的子图
// =============================================================================

func (p *Planner) planCompliance(b *workflow.Builder, in map[string]any, limit time.Duration) error {
	if _, ok := in[KeyDocumentRef]; ok {
		if p.w.Blobs == nil {
			return types.NewValidationError("document_ref requires blob storage")
		}
		b.Step(StepFetchDocument, p.fetchDocument).
			Reads(KeyDocumentRef).
			Writes(KeyDocument).
			Guarded(workers.WorkerBlob).
			Timeout(limit).
			Done()
	}
	b.Step(StepExtractFields, p.extractFields).
		Reads(KeyDocument).
		Writes(KeyExtracted).
		Guarded(workers.WorkerExtraction).
		Timeout(limit).
		Done()
	b.Step(StepEvaluateCompliance, p.evaluateCompliance).
		Reads(KeyExtracted).
		Writes(KeyCompliance).
		Done()
	return nil
}

func (p *Planner) planSearch(b *workflow.Builder, in map[string]any, limit time.Duration) {
	if _, ok := in[KeyProfile]; !ok {
		in[KeyProfile] = nil
	}
	for _, s := range p.ranking.Steps() {
		if s.Dependency != "" && s.Timeout == 0 {
			s.Timeout = limit
		}
		b.Add(s)
	}
}

func (p *Planner) planDraft(b *workflow.Builder, in map[string]any, limit time.Duration) error {
	opts, _ := ParseDraftOptions(in[KeyDraftOptions])
	in[KeyDraftOptions] = opts

	b.Step(StepBuildPrompt, buildPrompt).
		Reads(KeyInstructions, KeyDraftOptions).
		Writes(KeyPromptSpec).
		Done()
	b.Step(StepGenerateDraft, p.generateDraft).
		Reads(KeyPromptSpec).
		Writes(KeyDraft).
		Guarded(workers.WorkerGeneration).
		Timeout(limit).
		Done()

	if opts.Store {
		if p.w.Blobs == nil {
			return types.NewValidationError("draft_options.store requires blob storage")
		}
		b.Step(StepStoreDraft, p.storeDraft).
			Reads(KeyDraft).
			Writes(KeyDraftRef).
			Guarded(workers.WorkerBlob).
			Timeout(limit).
			Done()
	}
	return nil
}

func (p *Planner) planApplication(b *workflow.Builder, limit time.Duration) {
	b.Step(StepGateCompliance, gateCompliance).
		Reads(KeyCompliance).
		Writes(KeyComplianceStatus).
		Done()
	b.Step(StepSummarizeProfile, summarizeProfile).
		Reads(KeyOrganization, KeyProfile).
		Writes(KeyProfileSummary).
		Done()
	b.Step(StepDraftApplication, p.draftApplication).
		Reads(KeyComplianceStatus, KeyShortlist, KeyOrganization).
		Writes(KeyApplication).
		Guarded(workers.WorkerGeneration).
		Timeout(limit).
		Done()
}

// =============================================================================
// 🔧 步骤实现
// =============================================================================

func (p *Planner) fetchDocument(ctx context.Context, in workflow.Inputs) (any, error) {
	ref, err := in.String(KeyDocumentRef)
	if err != nil {
		return nil, err
	}
	return p.w.Blobs.FetchBlob(ctx, workers.Ref(ref))
}

func (p *Planner) extractFields(ctx context.Context, in workflow.Inputs) (any, error) {
	raw, _ := in.Get(KeyDocument)
	doc, err := documentBytes(raw)
	if err != nil {
		return nil, err
	}
	fields, confidence, err := p.w.Extractor.ExtractDocumentFields(ctx, doc)
	if err != nil {
		return nil, err
	}
	return Extraction{Fields: fields, Confidence: confidence}, nil
}

func (p *Planner) evaluateCompliance(_ context.Context, in workflow.Inputs) (any, error) {
	ext, err := workflow.InputAs[Extraction](in, KeyExtracted)
	if err != nil {
		return nil, err
	}
	return p.evaluator.EvaluateFields(ext.Fields, ext.Confidence, p.now()), nil
}

// gateCompliance 只有 valid 与 expiring_soon 允许继续起草
func gateCompliance(_ context.Context, in workflow.Inputs) (any, error) {
	ev, err := workflow.InputAs[compliance.Evaluation](in, KeyCompliance)
	if err != nil {
		return nil, err
	}
	if !ev.Status.Acceptable() {
		return nil, types.Errorf(types.KindValidation, "compliance status %s does not allow an application", ev.Status)
	}
	return ev.Status, nil
}

func buildPrompt(_ context.Context, in workflow.Inputs) (any, error) {
	instructions, err := in.String(KeyInstructions)
	if err != nil {
		return nil, err
	}
	opts, err := workflow.InputAs[DraftOptions](in, KeyDraftOptions)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = "markdown"
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(instructions))
	if len(opts.Sections) > 0 {
		fmt.Fprintf(&b, "\n\nWrite the sections: %s.", strings.Join(opts.Sections, ", "))
	}
	return PromptSpec{
		Prompt: b.String(),
		Constraints: workers.Constraints{
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			Format:      format,
			Sections:    opts.Sections,
		},
	}, nil
}

func (p *Planner) generateDraft(ctx context.Context, in workflow.Inputs) (any, error) {
	spec, err := workflow.InputAs[PromptSpec](in, KeyPromptSpec)
	if err != nil {
		return nil, err
	}
	return p.w.Generator.GenerateText(ctx, spec.Prompt, spec.Constraints)
}

func (p *Planner) storeDraft(ctx context.Context, in workflow.Inputs) (any, error) {
	draft, err := in.String(KeyDraft)
	if err != nil {
		return nil, err
	}
	runID, ok := types.RunID(ctx)
	if !ok {
		return nil, errors.New("run id missing from context")
	}
	return p.w.Blobs.StoreBlob(ctx, []byte(draft), "drafts/"+runID+".txt")
}

func summarizeProfile(_ context.Context, in workflow.Inputs) (any, error) {
	org, err := in.String(KeyOrganization)
	if err != nil {
		return nil, err
	}
	raw, _ := in.Get(KeyProfile)
	profile, err := ranking.ParseProfile(raw)
	if err != nil {
		return nil, err
	}

	parts := []string{strings.TrimSpace(org)}
	if profile.Region != "" {
		parts = append(parts, "located in "+profile.Region)
	}
	if len(profile.Categories) > 0 {
		cats := append([]string(nil), profile.Categories...)
		sort.Strings(cats)
		parts = append(parts, "working on "+strings.Join(cats, ", "))
	}
	if !profile.Funding.IsZero() {
		if profile.Funding.Max > 0 {
			parts = append(parts, fmt.Sprintf("seeking %.0f to %.0f", profile.Funding.Min, profile.Funding.Max))
		} else {
			parts = append(parts, fmt.Sprintf("seeking at least %.0f", profile.Funding.Min))
		}
	}
	return strings.Join(parts, "; "), nil
}

func (p *Planner) draftApplication(ctx context.Context, in workflow.Inputs) (any, error) {
	org, err := in.String(KeyOrganization)
	if err != nil {
		return nil, err
	}
	status, err := workflow.InputAs[compliance.Status](in, KeyComplianceStatus)
	if err != nil {
		return nil, err
	}
	shortlist, err := workflow.InputAs[ranking.Ranking](in, KeyShortlist)
	if err != nil {
		return nil, err
	}
	if shortlist.Len() == 0 {
		return nil, types.NewValidationError("no funding opportunity matched the query")
	}

	top := shortlist.Candidates[0]
	title := top.Candidate.Title
	if title == "" {
		title = top.Candidate.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a grant application for %s to the opportunity %q.\n", strings.TrimSpace(org), title)
	fmt.Fprintf(&b, "Opportunity: %s\n", top.Candidate.Description)
	if len(top.Reasons) > 0 {
		fmt.Fprintf(&b, "Fit: %s\n", strings.Join(top.Reasons, "; "))
	}
	if status == compliance.StatusExpiringSoon {
		b.WriteString("Note that the compliance certificate expires soon and mention its renewal.\n")
	}

	return p.w.Generator.GenerateText(ctx, b.String(), workers.Constraints{
		Format:   "markdown",
		Sections: []string{"Organization", "Eligibility", "Project Fit", "Budget"},
	})
}
