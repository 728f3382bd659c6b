package database

import (
	"fmt"
	"strings"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	// DriverSQLite 纯 Go 实现，开发环境默认
	DriverSQLite = "sqlite"
	// DriverSQLiteCGO 使用 mattn/go-sqlite3，需要 CGO
	DriverSQLiteCGO = "sqlite3"
)

// Config selects the driver and data source.
type Config struct {
	Driver string     `yaml:"driver" json:"driver" env:"DRIVER"`
	DSN    string     `yaml:"dsn" json:"-" env:"DSN"`
	Pool   PoolConfig `yaml:"pool" json:"pool" env:"POOL"`
	// SlowThreshold 慢查询阈值，超过时记录警告
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold" env:"SLOW_THRESHOLD"`
}

// DefaultConfig returns a local sqlite database.
func DefaultConfig() Config {
	return Config{
		Driver:        DriverSQLite,
		DSN:           "grantflow.db",
		Pool:          DefaultPoolConfig(),
		SlowThreshold: 200 * time.Millisecond,
	}
}

// NormalizeDriver maps aliases to a supported driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "sqlite", "":
		return DriverSQLite, nil
	case "sqlite3":
		return DriverSQLiteCGO, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Dialector returns the gorm dialector for cfg.
func Dialector(cfg Config) (gorm.Dialector, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch driver {
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverSQLiteCGO:
		return cgosqlite.Open(cfg.DSN), nil
	default:
		return glebarez.Open(cfg.DSN), nil
	}
}

// Open opens the database and wraps it in a PoolManager.
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logger, cfg.SlowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	return NewPoolManager(db, cfg.Pool, logger)
}

// newGormLogger gorm 的日志只输出警告以上，慢查询单独记录
func newGormLogger(logger *zap.Logger, slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	w := zap.NewStdLog(logger.With(zap.String("component", "gorm")))
	return gormlogger.New(w, gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
