package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaulBabatuyi/FileVault/internal/app"
	"github.com/PaulBabatuyi/FileVault/internal/config"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// 2. Create logger
	logger, err := observability.InitLogger(cfg.Dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// 3. Wire components
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	// 4. Serve until a signal arrives
	logger.Info("starting FileVault",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("admin_addr", cfg.AdminGRPCAddr),
		zap.Int64("max_upload_bytes", cfg.MaxUploadBytes),
	)
	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
