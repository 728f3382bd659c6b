// Package tlsutil 集中管理 HTTP 服务端、外部 worker 客户端与 Redis 连接的 TLS 配置。
package tlsutil
