package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "up":
		withMigrator("up", rest, func(ctx context.Context, cli *migration.CLI, _ []string) error {
			return cli.RunUp(ctx)
		})
	case "down":
		all := false
		withMigratorFlags("down", rest, func(fs *flag.FlagSet) {
			fs.BoolVar(&all, "all", false, "Rollback all migrations")
		}, func(ctx context.Context, cli *migration.CLI, _ []string) error {
			if all {
				return cli.RunDownAll(ctx)
			}
			return cli.RunDown(ctx)
		})
	case "steps":
		withMigrator("steps", rest, func(ctx context.Context, cli *migration.CLI, pos []string) error {
			n, err := positionalInt(pos)
			if err != nil {
				return err
			}
			return cli.RunSteps(ctx, n)
		})
	case "status":
		withMigrator("status", rest, func(ctx context.Context, cli *migration.CLI, _ []string) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withMigrator("version", rest, func(ctx context.Context, cli *migration.CLI, _ []string) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		withMigrator("goto", rest, func(ctx context.Context, cli *migration.CLI, pos []string) error {
			n, err := positionalInt(pos)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("version must not be negative")
			}
			return cli.RunGoto(ctx, uint(n))
		})
	case "force":
		withMigrator("force", rest, func(ctx context.Context, cli *migration.CLI, pos []string) error {
			n, err := positionalInt(pos)
			if err != nil {
				return err
			}
			return cli.RunForce(ctx, n)
		})
	case "reset":
		withMigrator("reset", rest, func(ctx context.Context, cli *migration.CLI, _ []string) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  grantflow migrate <subcommand> [options] [args]

Subcommands:
  up            Apply all pending migrations
  down [--all]  Rollback the last migration (or all of them)
  steps <n>     Apply n migrations, rollback when n is negative
  status        Show migration status
  version       Show current migration version
  goto <v>      Migrate to a specific version
  force <v>     Force set migration version (use with caution)
  reset         Rollback all migrations
  help          Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  grantflow migrate up
  grantflow migrate up --config /etc/grantflow/config.yaml
  grantflow migrate down --all
  grantflow migrate goto 1
  grantflow migrate force 0`)
}

type migrateFunc func(ctx context.Context, cli *migration.CLI, positional []string) error

func withMigrator(name string, args []string, fn migrateFunc) {
	withMigratorFlags(name, args, nil, fn)
}

// withMigratorFlags 解析通用参数、创建迁移器并执行 fn；失败时退出进程
func withMigratorFlags(name string, args []string, extra func(*flag.FlagSet), fn migrateFunc) {
	fs := flag.NewFlagSet("migrate "+name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if extra != nil {
		extra(fs)
	}
	// 位置参数在前，例如 goto 3 --config x.yaml
	positional, flags := splitPositional(args)
	_ = fs.Parse(flags)
	positional = append(positional, fs.Args()...)

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = fn(ctx, migration.NewCLI(migrator), positional)
	stop()
	_ = migrator.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", name, err)
		os.Exit(1)
	}
}

func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	logger, _ := initLogger(defaultCLILog())
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if dbURL != "" {
		cfg.Database.DSN = dbURL
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger.With(zap.String("command", "migrate")))
}

func splitPositional(args []string) (positional, rest []string) {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' && !isNumber(a) {
			return positional, args[i:]
		}
		positional = append(positional, a)
	}
	return positional, nil
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func positionalInt(pos []string) (int, error) {
	if len(pos) != 1 {
		return 0, fmt.Errorf("expected exactly one numeric argument, got %d", len(pos))
	}
	n, err := strconv.Atoi(pos[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", pos[0])
	}
	return n, nil
}
