package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/internal/database"
)

// NewMigratorFromDatabaseConfig reuses the run store's driver and DSN so the schema
// lands in the same database the service writes to.
func NewMigratorFromDatabaseConfig(cfg database.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	driver, err := database.NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(Config{
		DatabaseType: dbType,
		DatabaseURL:  cfg.DSN,
		Logger:       logger,
	})
}

// NewMigratorFromURL 直接由类型字符串与连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
