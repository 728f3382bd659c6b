package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/config"
	"github.com/BaSui01/grantflow/internal/server"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, loader, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting grantflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, loader, *configPath, level, logger); err != nil {
		logger.Error("grantflow exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("grantflow stopped")
}

// serve 阻塞直到 ctx 结束或服务器出错，然后排空异步运行并释放资源
func serve(ctx context.Context, cfg *config.Config, loader *config.Loader, configPath string, level zap.AtomicLevel, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if configPath != "" {
		reloader, err := config.NewReloader(loader, cfg, level, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			reloader.OnReload(func(next *config.Config) {
				if next.Server != cfg.Server || next.Workflow != cfg.Workflow || next.Audit != cfg.Audit {
					logger.Warn("config changed; only log.level is applied without restart")
				}
			})
			if err := reloader.Start(ctx); err != nil {
				logger.Warn("config watcher failed to start", zap.Error(err))
			} else {
				defer reloader.Stop()
			}
		}
	}

	mgr := server.NewManager(a.handler, cfg.Server, logger)
	runErr := mgr.Run(ctx)

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = server.DefaultConfig().ShutdownTimeout
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(runErr, a.close(closeCtx))
}
