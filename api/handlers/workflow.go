package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/api"
	"github.com/BaSui01/grantflow/orchestrator"
	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/runstore"
	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

// maxListLimit GET /v1/runs 单次返回上限
const maxListLimit = 200

// WorkflowService is the part of orchestrator.Service the handlers call.
type WorkflowService interface {
	SubmitWorkflow(ctx context.Context, requestType string, payload map[string]any) (*workflow.Result, error)
	SubmitAsync(ctx context.Context, requestType string, payload map[string]any) (string, error)
	GetRun(ctx context.Context, runID string) (*orchestrator.Run, error)
	ListRuns(ctx context.Context, requestType string, limit int) ([]runstore.Record, error)
	GetCircuitState(name string) (circuitbreaker.Snapshot, bool)
	Circuits() []circuitbreaker.Snapshot
}

var _ WorkflowService = (*orchestrator.Service)(nil)

// =============================================================================
// 🔁 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流提交与查询
type WorkflowHandler struct {
	service WorkflowService
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(service WorkflowService, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{service: service, logger: logger.With(zap.String("component", "workflow_api"))}
}

// HandleSubmit POST /v1/workflows/{type}
// 步骤失败体现在结果的 status 与 errors 中，HTTP 状态仍为 200
func (h *WorkflowHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	requestType, payload, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	res, err := h.service.SubmitWorkflow(r.Context(), requestType, payload)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("workflow finished",
		zap.String("run_id", res.RunID),
		zap.String("request_id", requestIDOf(r)),
		zap.String("request_type", requestType),
		zap.String("status", string(res.Status)),
		zap.Int("step_errors", len(res.Errors)),
	)
	WriteSuccess(w, r, res)
}

// HandleSubmitAsync POST /v1/workflows/{type}/async，受理后返回 202
func (h *WorkflowHandler) HandleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	requestType, payload, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}
	runID, err := h.service.SubmitAsync(r.Context(), requestType, payload)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+url.PathEscape(runID))
	WriteData(w, r, http.StatusAccepted, api.AsyncAccepted{
		RunID:       runID,
		RequestType: requestType,
		StatusURL:   "/v1/runs/" + url.PathEscape(runID),
	})
}

func (h *WorkflowHandler) decodeSubmission(w http.ResponseWriter, r *http.Request) (string, map[string]any, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return "", nil, false
	}
	var req api.SubmitRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return "", nil, false
	}
	if req.Payload == nil {
		WriteError(w, r, types.NewValidationError("payload is required"), h.logger)
		return "", nil, false
	}
	return r.PathValue("type"), req.Payload, true
}

// HandleGetRun GET /v1/runs/{id}
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, run)
}

// HandleListRuns GET /v1/runs?type=&limit=
func (h *WorkflowHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, r, types.Errorf(types.KindValidation, "limit must be a non-negative integer, got %q", raw), h.logger)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	recs, err := h.service.ListRuns(r.Context(), q.Get("type"), limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	out := api.RunList{Runs: make([]api.RunSummary, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		out.Runs = append(out.Runs, api.RunSummary{
			RunID:       rec.RunID,
			RequestType: rec.RequestType,
			Status:      rec.Status,
			StepErrors:  len(rec.Errors),
			StartedAt:   rec.StartedAt,
			FinishedAt:  rec.FinishedAt,
		})
	}
	WriteSuccess(w, r, out)
}

// =============================================================================
// ⚡ 熔断器状态
// =============================================================================

// HandleListCircuits GET /v1/circuits
func (h *WorkflowHandler) HandleListCircuits(w http.ResponseWriter, r *http.Request) {
	snaps := h.service.Circuits()
	if snaps == nil {
		snaps = []circuitbreaker.Snapshot{}
	}
	WriteSuccess(w, r, api.CircuitList{Circuits: snaps})
}

// HandleGetCircuit GET /v1/circuits/{name}
func (h *WorkflowHandler) HandleGetCircuit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, ok := h.service.GetCircuitState(name)
	if !ok {
		WriteError(w, r, types.Errorf(types.KindNotFound, "no circuit recorded for dependency %q", name), h.logger)
		return
	}
	WriteSuccess(w, r, snap)
}
