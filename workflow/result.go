package workflow

import (
	"time"

	"github.com/BaSui01/grantflow/types"
)

// Status 工作流整体状态
type Status string

const (
	// StatusSucceeded 没有任何步骤错误
	StatusSucceeded Status = "succeeded"
	// StatusPartiallySucceeded 存在步骤错误，但至少一个终端输出可用
	StatusPartiallySucceeded Status = "partially_succeeded"
	// StatusFailed 所有终端输出缺失，或运行被取消 / 超出预算
	StatusFailed Status = "failed"
)

// StepStatus 单个步骤的最终状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepError describes why a step produced no output.
type StepError struct {
	StepID   string          `json:"step_id"`
	Kind     types.ErrorKind `json:"kind"`
	Message  string          `json:"message"`
	Attempts int             `json:"attempts"`
}

func (e StepError) Error() string {
	return "step " + e.StepID + ": [" + string(e.Kind) + "] " + e.Message
}

// StepReport is the audit record of one step.
type StepReport struct {
	StepID     string          `json:"step_id"`
	Status     StepStatus      `json:"status"`
	Dependency string          `json:"dependency,omitempty"`
	Attempts   int             `json:"attempts"`
	Kind       types.ErrorKind `json:"kind,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Result 一次运行的聚合结果
type Result struct {
	RunID       string         `json:"run_id"`
	RequestType string         `json:"request_type,omitempty"`
	Status      Status         `json:"status"`
	Outputs     map[string]any `json:"outputs"`
	Errors      []StepError    `json:"errors"`
	Steps       []StepReport   `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Output returns the value stored under key.
func (r *Result) Output(key string) (any, bool) {
	v, ok := r.Outputs[key]
	return v, ok
}

// ErrorFor returns the StepError of a step.
func (r *Result) ErrorFor(stepID string) (StepError, bool) {
	for _, e := range r.Errors {
		if e.StepID == stepID {
			return e, true
		}
	}
	return StepError{}, false
}

// Report returns the report of a step.
func (r *Result) Report(stepID string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepReport{}, false
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutputAs returns the output under key asserted to T.
func OutputAs[T any](r *Result, key string) (T, bool) {
	var zero T
	v, ok := r.Outputs[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
