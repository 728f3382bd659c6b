/*
Package handlers 提供 grantflow HTTP API 的请求处理器与中间件。

# 核心类型

  - WorkflowHandler：工作流提交（同步 / 异步）、运行查询、熔断器状态
  - HealthHandler：存活与就绪检查（/health, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 kind、message、retryable
  - Middleware：Recovery、RequestID、AccessLog、RateLimit、Instrument、SecurityHeaders

# 错误映射

types.ErrorKind 到 HTTP 状态码：validation 400，authorization 403，not_found 404，
transient_dependency / circuit_open 503，upstream_failure 502，budget_exceeded 504，
cancelled 499，其余 500。

NewRouter 使用 Go 1.22 的 ServeMux 路由模式注册全部端点，指标按路由模板记录。
*/
package handlers
