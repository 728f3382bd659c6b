// Package runstore persists append-only audit records of workflow runs.
package runstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workflow"
)

// Record is the audit record of one finished run.
type Record struct {
	RunID       string                `json:"run_id"`
	RequestType string                `json:"request_type"`
	Status      workflow.Status       `json:"status"`
	Outputs     map[string]any        `json:"outputs"`
	Errors      []workflow.StepError  `json:"errors"`
	Steps       []workflow.StepReport `json:"steps"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
}

// FromResult converts a workflow result into a record.
func FromResult(res *workflow.Result) Record {
	return Record{
		RunID:       res.RunID,
		RequestType: res.RequestType,
		Status:      res.Status,
		Outputs:     res.Outputs,
		Errors:      res.Errors,
		Steps:       res.Steps,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
}

// Result converts the record back into a workflow result. Output values are whatever the
// backend decoded; JSON backends yield generic maps and slices.
func (r Record) Result() *workflow.Result {
	return &workflow.Result{
		RunID:       r.RunID,
		RequestType: r.RequestType,
		Status:      r.Status,
		Outputs:     r.Outputs,
		Errors:      r.Errors,
		Steps:       r.Steps,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

// Store 运行记录存储，只追加不修改
type Store interface {
	// Append stores a new record. A record with the same run ID is a validation error.
	Append(ctx context.Context, rec Record) error
	// Get returns the record of runID, or a not_found error.
	Get(ctx context.Context, runID string) (Record, error)
	// List returns up to limit records, newest first. An empty requestType lists all types.
	List(ctx context.Context, requestType string, limit int) ([]Record, error)
}

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

func checkRecord(rec Record) error {
	if rec.RunID == "" {
		return types.NewValidationError("run record has no run id")
	}
	return nil
}

func duplicateError(runID string) error {
	return types.Errorf(types.KindValidation, "run %s already recorded", runID)
}

func notFoundError(runID string) error {
	return types.Errorf(types.KindNotFound, "run %s not found", runID)
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// encode 统一的 JSON 编码，所有持久化后端共用
func encode(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", types.NewError(types.KindInternal, "run record is not serializable").WithCause(err)
	}
	return string(b), nil
}
