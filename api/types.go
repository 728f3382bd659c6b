package api

import (
	"time"

	"github.com/BaSui01/grantflow/resilience/circuitbreaker"
	"github.com/BaSui01/grantflow/workflow"
)

// =============================================================================
// 工作流提交
// =============================================================================

// SubmitRequest 提交工作流的请求体
// @Description 工作流提交请求
type SubmitRequest struct {
	// 请求载荷，键集合由请求类型决定
	Payload map[string]any `json:"payload"`
}

// AsyncAccepted 异步提交的受理结果
type AsyncAccepted struct {
	RunID       string `json:"run_id"`
	RequestType string `json:"request_type"`
	// 轮询地址
	StatusURL string `json:"status_url"`
}

// =============================================================================
// 运行查询
// =============================================================================

// RunSummary 列表中的单条运行摘要，不含输出
type RunSummary struct {
	RunID       string          `json:"run_id"`
	RequestType string          `json:"request_type"`
	Status      workflow.Status `json:"status"`
	StepErrors  int             `json:"step_errors"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// RunList GET /v1/runs 的响应
type RunList struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// CircuitList GET /v1/circuits 的响应
type CircuitList struct {
	Circuits []circuitbreaker.Snapshot `json:"circuits"`
}
