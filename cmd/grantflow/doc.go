/*
Package main 提供 grantflow 服务端程序入口。

# 概述

cmd/grantflow 装配配置、日志、指标、追踪、缓存、审计存储、worker 与工作流服务，
提供 HTTP API 服务、工作流规划预览、数据库迁移、健康检查和版本查询等子命令。

# 主要能力

  - 子命令：serve、plan、migrate、health、version
  - 组件装配：app 按配置选择 worker 后端（local / openai）与审计后端（none / memory / database / redis）
  - Redis 不可用时降级运行：关闭嵌入缓存与 blob 存储
  - 配置热重载：监听配置文件，日志级别即时生效，其余变更提示需重启
  - 优雅关闭：信号 → 关闭 HTTP → 排空异步运行 → 关闭连接 → 刷新追踪数据
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
