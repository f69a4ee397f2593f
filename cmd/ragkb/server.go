package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/handler"
	"github.com/xxxsen/ragkb/internal/job"
	"github.com/xxxsen/ragkb/internal/middleware"
	"github.com/xxxsen/ragkb/internal/schedule"
)

const jobTimeout = 30 * time.Minute

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("store", a.store.Name()),
		zap.String("file_store", cfg.FileStore.Type),
	)

	deps := handler.RouterDeps{
		Documents:       handler.NewDocumentHandler(a.documents, a.ingest),
		Query:           handler.NewQueryHandler(a.query),
		Health:          handler.NewHealthHandler(a.store.Name(), a.retriever.Mode()),
		QueryRateWindow: time.Duration(cfg.QueryRateWindowMs) * time.Millisecond,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler, err := buildScheduler(a)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server stopping...")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func buildScheduler(a *app) (*schedule.CronScheduler, error) {
	scheduler := schedule.NewCronScheduler(jobTimeout)
	jobs := a.cfg.Jobs
	if a.embeddings != nil && jobs.EmbeddingBackfill != "" {
		if err := scheduler.AddJob(job.NewEmbeddingBackfillJob(a.embeddings), jobs.EmbeddingBackfill); err != nil {
			return nil, fmt.Errorf("schedule embedding backfill: %w", err)
		}
	}
	if a.cacheRepo != nil && jobs.CacheCleanup != "" {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, a.cfg.EmbedCache.MaxAgeDays), jobs.CacheCleanup); err != nil {
			return nil, fmt.Errorf("schedule cache cleanup: %w", err)
		}
	}
	return scheduler, nil
}
