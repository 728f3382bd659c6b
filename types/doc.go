// Copyright (c) GrantFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 GrantFlow 各层共享的基础类型。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、ranking、compliance、
workers、orchestrator 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorKind：结构化错误体系，validation、authorization、not_found、
    transient_dependency、circuit_open、upstream_failure、cancelled、budget_exceeded
  - CandidateRecord：资助机会（类别标签、资助区间、地域限制）
  - RankedCandidate：带综合得分与理由的候选项
  - FundingRange：闭区间资助金额

# 主要能力

  - 错误分类：KindOf / IsKind / IsTransient / AsError
  - Context 传播：WithRequestID / WithRunID / WithTraceID
  - 上下文错误映射：FromContext（取消 → cancelled，超时 → budget_exceeded）
*/
package types
