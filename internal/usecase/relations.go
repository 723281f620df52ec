package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
)

const defaultRelationWorkers = 4

// RelationResolverConfig holds the tunables of the cross-store batch job.
type RelationResolverConfig struct {
	// Workers bounds the parallel per-product candidate scans.
	Workers int
}

// RelationResolver is the periodic batch job that discovers likely-equivalent
// products across stores and records weighted relation edges. It is never
// invoked by the ingestion path.
type RelationResolver struct {
	storage domain.Storage
	scorer  *Scorer
	workers int
	logger  *zap.Logger
}

// NewRelationResolver creates the cross-store similarity resolver.
func NewRelationResolver(storage domain.Storage, scorer *Scorer, config RelationResolverConfig, logger *zap.Logger) *RelationResolver {
	workers := config.Workers
	if workers <= 0 {
		workers = defaultRelationWorkers
	}
	return &RelationResolver{
		storage: storage,
		scorer:  scorer,
		workers: workers,
		logger:  logger,
	}
}

// ResolveCrossStoreRelations scans every product against all products in
// other stores, scoring pairs with the blended name+price similarity, and
// writes one relation edge per pair at or above the relation threshold. The
// candidate scans are independent and run on a bounded worker pool; all
// edges are committed in a single bulk write at the end, so the scan phase
// never contends on storage writes. Returns the number of edges written.
func (r *RelationResolver) ResolveCrossStoreRelations(ctx context.Context) (int, error) {
	products, err := r.storage.Products(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("loading products: %w", err)
	}

	latestAmounts, err := r.loadLatestAmounts(ctx, products)
	if err != nil {
		return 0, fmt.Errorf("loading latest prices: %w", err)
	}

	jobs := make(chan domain.Product)
	results := make(chan []*domain.ProductRelation)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for product := range jobs {
				results <- r.scanCandidates(product, products, latestAmounts)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, product := range products {
			select {
			case jobs <- product:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var relations []*domain.ProductRelation
	for edges := range results {
		relations = append(relations, edges...)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(relations) == 0 {
		return 0, nil
	}

	tx, err := r.storage.Begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.UpsertRelations(ctx, relations); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("writing relations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing relations: %w", err)
	}

	r.logger.Info("cross-store relations resolved",
		zap.Int("products", len(products)),
		zap.Int("relations", len(relations)))
	return len(relations), nil
}

// scanCandidates scores one product against every product in other stores.
// Read-only over shared state; each call owns its result slice.
func (r *RelationResolver) scanCandidates(product domain.Product, all []domain.Product, latestAmounts map[string]*float64) []*domain.ProductRelation {
	var edges []*domain.ProductRelation
	for _, candidate := range all {
		if candidate.ID == product.ID || candidate.StoreID == product.StoreID {
			continue
		}
		score := r.scorer.ProductSimilarity(
			product.Name, candidate.Name,
			latestAmounts[product.ID], latestAmounts[candidate.ID])
		if score < r.scorer.RelationThreshold() {
			continue
		}
		edges = append(edges, &domain.ProductRelation{
			ID:               uuid.NewString(),
			ProductID:        product.ID,
			RelatedProductID: candidate.ID,
			SimilarityScore:  score,
		})
	}
	return edges
}

// loadLatestAmounts prefetches every product's latest amount once so the O(n²)
// pairwise scan never goes back to storage.
func (r *RelationResolver) loadLatestAmounts(ctx context.Context, products []domain.Product) (map[string]*float64, error) {
	amounts := make(map[string]*float64, len(products))
	for _, product := range products {
		latest, err := r.storage.LatestPrice(ctx, product.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				amounts[product.ID] = nil
				continue
			}
			return nil, err
		}
		amount := latest.Amount
		amounts[product.ID] = &amount
	}
	return amounts, nil
}

// SimilarInOtherStores is the on-demand variant used by the read API: find
// candidates for one product, grouped by store name, without writing
// relation edges.
func (r *RelationResolver) SimilarInOtherStores(ctx context.Context, productID string) (map[string][]domain.ProductMatch, error) {
	product, err := r.storage.ProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	stores, err := r.storage.Stores(ctx)
	if err != nil {
		return nil, err
	}

	productLatest, err := r.latestAmount(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]domain.ProductMatch)
	for _, store := range stores {
		if store.ID == product.StoreID {
			continue
		}
		candidates, err := r.storage.ProductsByStore(ctx, store.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		var matches []domain.ProductMatch
		for _, candidate := range candidates {
			candidateLatest, err := r.latestAmount(ctx, candidate.ID)
			if err != nil {
				return nil, err
			}
			score := r.scorer.ProductSimilarity(product.Name, candidate.Name, productLatest, candidateLatest)
			if score >= r.scorer.RelationThreshold() {
				matches = append(matches, domain.ProductMatch{Product: candidate, Score: score})
			}
		}
		if len(matches) > 0 {
			result[store.Name] = matches
		}
	}
	return result, nil
}

func (r *RelationResolver) latestAmount(ctx context.Context, productID string) (*float64, error) {
	latest, err := r.storage.LatestPrice(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	amount := latest.Amount
	return &amount, nil
}
