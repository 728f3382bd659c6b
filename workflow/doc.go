// Copyright (c) GrantFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供 DAG 工作流图与执行器。

# 概述

请求被规划为一张由类型化步骤组成的有向无环图。执行器按依赖关系并发运行就绪步骤，
每次调用都经过 retry(circuitbreaker.guard(dependency, work))，即使部分步骤失败
也会把所有结果聚合成一个 Result。

# 核心类型

  - Step：步骤：输入键、输出键、显式依赖、熔断依赖名、单次超时、重试策略
  - Graph：只读图：输出键到生产者的映射、隐式依赖、分层、环检测
  - Builder：Fluent API 构建图（Build 时做结构校验）
  - Executor：执行器：有界并发、重试、熔断、取消与预算、OTel span
  - Result：聚合结果：Outputs、有序 StepError 列表、每步 StepReport
  - Observer：生命周期钩子（指标采集）
  - Definition：图的可序列化描述（JSON / YAML）

# 语义要点

  - 就绪：所有依赖（含由输入键推导的生产者）均成功
  - 失败：步骤失败后，其全部传递下游标记为 upstream_failure 且从不调用
  - 取消：进行中的尝试会完成，不再启动新步骤或新尝试，未启动步骤记为 cancelled
    （超出预算时为 budget_exceeded），整体状态为 failed
  - 状态：无错误为 succeeded；终端输出全部缺失或运行被中断为 failed；
    否则为 partially_succeeded
*/
package workflow
