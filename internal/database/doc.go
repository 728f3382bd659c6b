/*
包 database 负责按驱动打开 GORM 数据库并管理连接池。

# 驱动

  - postgres：gorm.io/driver/postgres
  - mysql：gorm.io/driver/mysql
  - sqlite：github.com/glebarez/sqlite，纯 Go，开发环境默认
  - sqlite3：gorm.io/driver/sqlite，需要 CGO

# 核心类型

  - Config：驱动、DSN、连接池参数与慢查询阈值。
  - PoolManager：持有 GORM 与底层 sql.DB，提供 Ping、GetStats、Close，
    后台按间隔探活。
  - WithTransaction / WithTransactionRetry：事务执行；后者复用
    resilience/retry 的指数退避，仅在死锁、序列化失败、连接中断时重试。
*/
package database
