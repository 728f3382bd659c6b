/*
包 metrics 基于 Prometheus 采集服务指标。

Collector 在注入的 prometheus.Registerer 上注册全部指标，测试可传入独立 Registry。
它同时实现 workflow.Observer，并通过 BreakerStateChanged 接收熔断器状态变更。

  - HTTP：请求数、耗时、响应大小，按 method/path/status 分组。
  - 工作流：运行数与耗时（按 request_type/status），步骤数、耗时与尝试次数。
  - 熔断器：各依赖当前状态与状态转换计数。
  - 业务：排序结果大小、缓存命中率、数据库连接池统计。
*/
package metrics
