// Package app wires the FileVault components together and runs them until
// the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/PaulBabatuyi/FileVault/internal/config"
	"github.com/PaulBabatuyi/FileVault/internal/events"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"github.com/PaulBabatuyi/FileVault/internal/server"
	"github.com/PaulBabatuyi/FileVault/internal/service"
	"github.com/PaulBabatuyi/FileVault/internal/storage"
	"github.com/PaulBabatuyi/FileVault/internal/worker"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config  *config.Config
	logger  *zap.Logger
	tp      *sdktrace.TracerProvider
	store   *storage.MemoryStorage
	hub     *events.Hub
	worker  *worker.ProcessingWorker
	httpSrv *http.Server
	admin   *server.AdminServer
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	tp, err := observability.InitTracerProvider(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	store := storage.NewMemoryStorage(cfg.MaxUploadBytes)

	metrics, err := observability.InitMetrics(func() (int, int64) {
		st := store.Stats()
		return st.Files, st.Bytes
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	hub := events.NewHub(logger.Named("events"))

	thumbs := worker.NewProcessingWorker(&worker.WorkerConfig{
		Store:           store,
		Logger:          logger.Named("worker"),
		QueueSize:       cfg.ThumbnailQueue,
		Workers:         cfg.ThumbnailWorkers,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnResult: func(result string) {
			metrics.ThumbnailJobs.WithLabelValues(result).Inc()
		},
	})

	opts := service.Options{
		Logger:            logger.Named("service"),
		Metrics:           metrics,
		Publisher:         hub,
		UploadConcurrency: cfg.UploadConcurrency,
	}
	if cfg.ThumbnailWorkers > 0 {
		opts.Thumbnails = thumbs
	}
	files, err := service.NewFileService(store, opts)
	if err != nil {
		return nil, fmt.Errorf("init file service: %w", err)
	}

	handler := server.NewFileServer(files, server.Options{
		Logger:         logger.Named("http"),
		Metrics:        metrics,
		Events:         hub,
		StaticDir:      cfg.StaticDir,
		TracerProvider: tp,
	}).Handler()

	app := &App{
		config: cfg,
		logger: logger,
		tp:     tp,
		store:  store,
		hub:    hub,
		worker: thumbs,
		httpSrv: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			ErrorLog:     zap.NewStdLog(logger.Named("http")),
		},
	}
	if cfg.AdminGRPCAddr != "" {
		app.admin = server.NewAdminServer(logger.Named("admin"), metrics, tp)
	}
	return app, nil
}

// Run listens on the configured addresses and serves until ctx is done.
func (app *App) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", app.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", app.config.HTTPAddr, err)
	}

	var adminLis net.Listener
	if app.admin != nil {
		adminLis, err = net.Listen("tcp", app.config.AdminGRPCAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("listen admin %s: %w", app.config.AdminGRPCAddr, err)
		}
	}

	return app.Serve(ctx, httpLis, adminLis)
}

// Serve runs every component on the given listeners. adminLis may be nil.
// It returns after a graceful shutdown once ctx is cancelled or a server fails.
func (app *App) Serve(ctx context.Context, httpLis, adminLis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	if app.config.ThumbnailWorkers > 0 {
		app.worker.Start(ctx)
	}

	g.Go(func() error {
		app.logger.Info("HTTP server listening", zap.String("addr", httpLis.Addr().String()))
		if err := app.httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if app.admin != nil && adminLis != nil {
		g.Go(func() error {
			if err := app.admin.Serve(adminLis); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		app.admin.SetServing(true)
	}

	g.Go(func() error {
		<-ctx.Done()
		return app.shutdown()
	})

	return g.Wait()
}

func (app *App) shutdown() error {
	st := app.store.Stats()
	app.logger.Info("shutting down", zap.Int("files", st.Files), zap.Int64("bytes", st.Bytes))

	ctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	var errs []error

	if app.admin != nil {
		app.admin.SetServing(false)
	}

	// websocket connections are hijacked, so Shutdown does not wait for them
	app.hub.Close()

	if err := app.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if app.admin != nil {
		app.admin.Stop(ctx)
	}
	if err := app.worker.Stop(); err != nil {
		errs = append(errs, err)
	}
	observability.ShutdownTracerProvider(ctx, app.tp, app.logger)

	return errors.Join(errs...)
}

// Handler exposes the HTTP handler, mainly for tests.
func (app *App) Handler() http.Handler {
	return app.httpSrv.Handler
}
