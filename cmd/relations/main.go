package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/config"
	"github.com/pricepulse/backend/internal/infrastructure/storage"
	"github.com/pricepulse/backend/internal/usecase"
)

// One-shot cross-store relation discovery, for cron-style scheduling.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	scorer := usecase.NewScorer(usecase.ScorerConfig{
		SearchThreshold:   cfg.Matching.SearchThreshold,
		RelationThreshold: cfg.Matching.RelationThreshold,
	})

	store, err := storage.New(storage.Options{
		Type:         cfg.Storage.Type,
		DSN:          cfg.Storage.DSN,
		SnapshotPath: cfg.Storage.SnapshotPath,
	}, scorer, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close() //nolint:errcheck

	resolver := usecase.NewRelationResolver(store, scorer, usecase.RelationResolverConfig{
		Workers: cfg.Matching.RelationWorkers,
	}, logger)

	start := time.Now()
	count, err := resolver.ResolveCrossStoreRelations(context.Background())
	if err != nil {
		logger.Fatal("relation discovery failed", zap.Error(err))
	}
	logger.Info("relation discovery finished",
		zap.Int("relations", count),
		zap.Duration("elapsed", time.Since(start)),
	)
}
