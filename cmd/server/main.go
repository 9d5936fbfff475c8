package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/gptload-sync/cmd"
	"github.com/nulzo/gptload-sync/internal/cli"
	"github.com/nulzo/gptload-sync/internal/config"
	"github.com/nulzo/gptload-sync/internal/gptload"
	"github.com/nulzo/gptload-sync/internal/metrics"
	"github.com/nulzo/gptload-sync/internal/platform/logger"
	"github.com/nulzo/gptload-sync/internal/platform/otel"
	"github.com/nulzo/gptload-sync/internal/reconcile"
	"github.com/nulzo/gptload-sync/internal/retry"
	"github.com/nulzo/gptload-sync/internal/server"
	v1 "github.com/nulzo/gptload-sync/internal/server/v1"
	"github.com/nulzo/gptload-sync/internal/store/cache"
	"github.com/nulzo/gptload-sync/internal/store/sqlite"
	"github.com/nulzo/gptload-sync/internal/syncer"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Initialize(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		EnableColor: logger.DefaultConfig().EnableColor,
	})
	defer logger.Sync()

	if cfg.Log.Format != "json" {
		fmt.Print(cli.Banner(cmd.AppVersion))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otel.InitTracer(cfg.Tracing, log, os.Stdout)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()

	statusCache, closeCache, err := newCache(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeCache()

	collector := metrics.NewCollector()

	client := gptload.NewClient(cfg.GPTLoad.URL, cfg.GPTLoad.AuthKey, cfg.GPTLoad.Timeout, log,
		gptload.WithRetryPolicy(retry.Policy{
			MaxAttempts:     cfg.GPTLoad.Retry.MaxAttempts,
			InitialInterval: cfg.GPTLoad.Retry.InitialInterval,
			MaxInterval:     cfg.GPTLoad.Retry.MaxInterval,
			Multiplier:      cfg.GPTLoad.Retry.Multiplier,
		}),
		gptload.WithObserver(collector.ObserveRemote),
	)
	reader := gptload.NewReader(client, log)
	executor := reconcile.NewExecutor(client, reader, repo.Groups(), reconcile.Options{
		Strategy:       cfg.Sync.AggregateStrategy,
		UpstreamWeight: cfg.Sync.UpstreamWeight,
		SubGroupWeight: cfg.Sync.SubGroupWeight,
	}, log)

	coordinator := syncer.NewCoordinator(syncer.Deps{
		Store:    repo,
		Reader:   reader,
		Executor: executor,
		Metrics:  collector,
		Logger:   log,
	}, syncer.Config{
		GPTLoadURL:     cfg.GPTLoad.URL,
		AuthKey:        cfg.GPTLoad.AuthKey,
		ExportPath:     cfg.Sync.ExportPath,
		UpstreamWeight: cfg.Sync.UpstreamWeight,
	})

	srv := server.New(cfg, log, v1.Deps{
		Store:      repo,
		Sync:       coordinator,
		GPTLoad:    client,
		GPTLoadURL: cfg.GPTLoad.URL,
		Cache:      statusCache,
		StatusTTL:  cfg.Cache.StatusTTL,
		Logger:     log,
	}, collector.Handler())

	if cfg.UpdateCheck.Enabled {
		go cmd.CheckForUpdates(ctx, cfg.UpdateCheck.Repo, log)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", httpServer.Addr),
			zap.String("gptload", cfg.GPTLoad.URL),
			zap.String("strategy", cfg.Sync.AggregateStrategy))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// in-flight sync requests finish under this deadline
	return httpServer.Shutdown(shutdownCtx)
}

// newCache returns redis when enabled, an in-process cache otherwise.
func newCache(ctx context.Context, cfg config.CacheConfig, log *zap.Logger) (cache.CacheService, func(), error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), func() {}, nil
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("using redis cache", zap.String("addr", cfg.Redis.Addr))
	return rc, func() { _ = rc.Close() }, nil
}
