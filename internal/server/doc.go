/*
包 server 管理 HTTP/HTTPS 服务器的生命周期。

Manager 封装 net/http.Server：Start 非阻塞启动，Run 阻塞到 ctx 结束后优雅关闭，
Shutdown 在超时内排空请求。配置了证书对时使用 tlsutil 的加固 TLS 配置；
MaxConnections 通过 netutil.LimitListener 限制并发连接。
*/
package server
