/*
包 orchestrator 将高层请求规划为工作流图并执行。

# 请求类型

  - compliance_check：[fetch_document] → extract_fields → evaluate_compliance
  - grant_search：embed_query → search_candidates → rank_grants
  - document_draft：build_prompt → generate_draft → [store_draft]
  - grant_application：合规分支与检索分支并行，gate_compliance 与 rank_grants
    都成功后执行 draft_application；summarize_profile 独立于两者。

# 核心类型

  - Planner：校验负载并构建 workflow.Graph，步骤通过 workers 接口调用外部依赖。
  - Service：按请求类型的时间预算执行图，写入审计记录，支持异步提交与轮询，
    并暴露熔断器状态。
*/
package orchestrator
