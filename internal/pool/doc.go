/*
包 pool 提供有界的后台任务池，用于异步提交的工作流运行。

worker 按需启动，最多 Config.Workers 个；空闲超过 IdleTimeout 的 worker 退出，
但始终保留一个。Submit 从不阻塞，队列满时返回 ErrPoolFull。
任务中的 panic 会被恢复并记录，不影响其它任务。
*/
package pool
