/*
包 cache 提供基于 Redis 的缓存管理能力，支持键前缀、连接池、健康检查与 JSON 序列化。

# 核心类型

  - Manager：缓存管理器，持有 go-redis 客户端，提供 Get/Set/Delete/Ping
    以及 GetJSON/SetJSON；Client() 供 blob 存储与运行记录存储共享连接池。
  - Config：地址、密码、键前缀、默认 TTL、连接池大小与健康检查间隔。
  - Stats：本进程命中/未命中计数、键数量与连接池状态。

# 错误语义

ErrCacheMiss 表示未命中，ErrClosed 表示管理器已关闭。
*/
package cache
