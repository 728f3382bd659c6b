// Package telemetry 初始化 OpenTelemetry 的 TracerProvider 与 MeterProvider，
// 并提供把工作流步骤与运行导出为 span 的 WorkflowObserver。
// 遥测关闭时全局 provider 保持 noop，不连接任何外部服务。
package telemetry
