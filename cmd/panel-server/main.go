// cmd/panel-server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/common/observability"
	"modelpanel/internal/discussion"
	"modelpanel/internal/sanitize"
	"modelpanel/internal/search"
	"modelpanel/internal/server"
	"modelpanel/internal/store"
)

func main() {
	zapLog := logger.New("info", "console")
	defer func() { _ = zapLog.Sync() }()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting panel server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Rebuild with the configured level and format.
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log = logger.NewZapAdapter(zapLog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	registry := backend.NewRegistry(cfg.Backends)
	caller := backend.NewClient(registry, cfg.Call, log)
	sanitizer := sanitize.New(cfg.Sanitize, registry)

	manager := server.NewManager(caller, sanitizer, cfg.Discussion, log)
	manager.TurnHook = func(r discussion.ResponseRecord) {
		status := "valid"
		switch {
		case r.Failed:
			status = "failed"
		case !r.Quality.IsValid:
			status = "invalid"
		}
		ctx := context.Background()
		obs.RecordTurnProcessed(ctx, status)
		obs.RecordTurnDuration(ctx, time.Duration(r.ProcessingTimeMs)*time.Millisecond, status)
	}
	searcher := search.NewSearcher(caller, sanitizer, cfg.Search, log)

	var opts server.Options
	if cfg.Storage.Redis.Enabled {
		cache := store.NewSnapshotCache(cfg.Storage.Redis)
		defer cache.Close()
		opts.Cache = cache
		zapLog.Info("Snapshot cache enabled", zap.String("address", cfg.Storage.Redis.Address))
	}
	if cfg.Storage.Postgres.Enabled {
		archive, err := store.NewArchive(cfg.Storage.Postgres)
		if err != nil {
			zapLog.Fatal("archive init failed", zap.Error(err))
		}
		defer archive.Close()
		if err := archive.Migrate(context.Background()); err != nil {
			zapLog.Fatal("archive migration failed", zap.Error(err))
		}
		opts.Archive = archive
		zapLog.Info("Snapshot archive enabled", zap.String("host", cfg.Storage.Postgres.Host))
	}

	srv := server.New(manager, searcher, registry, cfg.Server, log, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		zapLog.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zapLog.Fatal("server failed", zap.Error(err))
		}
	}

	if err := srv.Shutdown(); err != nil {
		zapLog.Error("shutdown error", zap.Error(err))
	}
	zapLog.Info("Panel server stopped")
}
