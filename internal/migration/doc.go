/*
包 migration 管理 workflow_runs 表结构，基于 golang-migrate。

SQL 文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下，
编号与 runstore 的 GORM 模型保持一致。SQLite 通过纯 Go 驱动
打开连接，不依赖 CGO。

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Version、Status、Info。
  - NewMigratorFromDatabaseConfig：复用 database.Config 的驱动与 DSN。
  - CLI：供 grantflow migrate 子命令使用的文本输出层。
*/
package migration
