/*
包 config 加载 GrantFlow 的运行配置。

# 加载顺序

默认值 → YAML 文件 → 环境变量。环境变量名由 env tag 逐级拼接，
前缀默认为 GRANTFLOW，例如：

	GRANTFLOW_SERVER_ADDR=:9000
	GRANTFLOW_WORKFLOW_SEARCH_BUDGET=3s
	GRANTFLOW_RANKING_WEIGHTS_SIMILARITY=0.6
	GRANTFLOW_LOG_OUTPUT_PATHS=stdout,/var/log/grantflow.log

各组件（server、cache、database、ranking、compliance、retry、circuitbreaker、
openai、telemetry）的配置结构体直接嵌入 Config，默认值取自组件自身的 DefaultConfig。

# 热更新

FileWatcher 轮询配置文件的修改时间；Reloader 在变化后重新加载，
校验失败时保留旧配置。只有 log.level 会即时生效。
*/
package config
