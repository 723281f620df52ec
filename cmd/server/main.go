package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/config"
	httpDelivery "github.com/pricepulse/backend/internal/delivery/http"
	"github.com/pricepulse/backend/internal/infrastructure/storage"
	"github.com/pricepulse/backend/internal/usecase"
)

func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting pricepulse backend",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Type),
	)

	// Shared similarity scorer for search and relation discovery
	scorer := usecase.NewScorer(usecase.ScorerConfig{
		SearchThreshold:   cfg.Matching.SearchThreshold,
		RelationThreshold: cfg.Matching.RelationThreshold,
	})

	// Storage backend
	store, err := storage.New(storage.Options{
		Type:         cfg.Storage.Type,
		DSN:          cfg.Storage.DSN,
		SnapshotPath: cfg.Storage.SnapshotPath,
	}, scorer, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	// Usecase layer
	reconciler := usecase.NewReconciler(store, logger)
	resolver := usecase.NewRelationResolver(store, scorer, usecase.RelationResolverConfig{
		Workers: cfg.Matching.RelationWorkers,
	}, logger)
	ingest := usecase.NewIngestService(reconciler, usecase.IngestConfig{
		APIKey:    cfg.Ingest.APIKey,
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	}, logger)

	if cfg.Ingest.APIKey == "" {
		logger.Warn("no ingest API key configured, accepting any key")
	}

	// Optional in-process relation discovery job
	jobCtx, cancelJob := context.WithCancel(context.Background())
	defer cancelJob()
	if cfg.Matching.RelationInterval > 0 {
		go runRelationJob(jobCtx, resolver, cfg.Matching.RelationInterval, logger)
	}

	// HTTP delivery
	handler := httpDelivery.NewHandler(store, ingest, reconciler, resolver, logger)
	router := httpDelivery.SetupRouter(cfg, handler, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancelJob()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Drain queued batches so accepted submissions are not lost
	ingest.Close()

	logger.Info("goodbye")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runRelationJob(ctx context.Context, resolver *usecase.RelationResolver, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := resolver.ResolveCrossStoreRelations(ctx)
			if err != nil {
				logger.Error("relation discovery failed", zap.Error(err))
				continue
			}
			logger.Info("relation discovery finished", zap.Int("relations", count))
		}
	}
}
