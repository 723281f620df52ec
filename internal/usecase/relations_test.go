package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
	"github.com/pricepulse/backend/internal/infrastructure/storage"
)

// seedTwoStores loads two stores carrying one near-identical product pair
// and one unrelated product, and returns the product ids of the pair.
func seedTwoStores(t *testing.T, reconciler *Reconciler, store *storage.MemoryStorage) (string, string) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "1", FetchedAt: at(t0)},
		{Name: "Garden Hose 20m", Link: "l", Amount: 45.00, Reference: "2", FetchedAt: at(t0)},
	}); err != nil {
		t.Fatalf("Reconcile(Acme Mart) error = %v", err)
	}
	if _, err := reconciler.Reconcile(ctx, "Budget Foods", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 10.49, Reference: "1", FetchedAt: at(t0)},
	}); err != nil {
		t.Fatalf("Reconcile(Budget Foods) error = %v", err)
	}

	acme, _ := store.StoreByName(ctx, "Acme Mart")
	budget, _ := store.StoreByName(ctx, "Budget Foods")
	acmeProducts, _ := store.ProductsByStoreAndReferences(ctx, acme.ID, []int64{1})
	budgetProducts, _ := store.ProductsByStoreAndReferences(ctx, budget.ID, []int64{1})
	return acmeProducts[0].ID, budgetProducts[0].ID
}

func TestResolveCrossStoreRelations(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	scorer := NewScorer(ScorerConfig{})
	resolver := NewRelationResolver(store, scorer, RelationResolverConfig{Workers: 2}, zap.NewNop())
	ctx := context.Background()

	milkA, milkB := seedTwoStores(t, reconciler, store)

	count, err := resolver.ResolveCrossStoreRelations(ctx)
	if err != nil {
		t.Fatalf("ResolveCrossStoreRelations() error = %v", err)
	}
	// One edge per direction of the milk pair; the hose has no counterpart.
	if count != 2 {
		t.Errorf("relations written = %d, want 2", count)
	}

	forA, err := store.RelationsForProduct(ctx, milkA)
	if err != nil {
		t.Fatalf("RelationsForProduct(milkA) error = %v", err)
	}
	forB, err := store.RelationsForProduct(ctx, milkB)
	if err != nil {
		t.Fatalf("RelationsForProduct(milkB) error = %v", err)
	}
	if len(forA) != 2 || len(forB) != 2 {
		t.Fatalf("edges for pair = %d/%d, want 2/2 (both directions visible from either side)", len(forA), len(forB))
	}
	for _, relation := range forA {
		if relation.SimilarityScore < scorer.RelationThreshold() {
			t.Errorf("SimilarityScore = %v, want >= %v", relation.SimilarityScore, scorer.RelationThreshold())
		}
	}
}

func TestResolveCrossStoreRelations_Rerun(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	resolver := NewRelationResolver(store, NewScorer(ScorerConfig{}), RelationResolverConfig{}, zap.NewNop())
	ctx := context.Background()

	seedTwoStores(t, reconciler, store)

	if _, err := resolver.ResolveCrossStoreRelations(ctx); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if _, err := resolver.ResolveCrossStoreRelations(ctx); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	// Rerunning upserts existing pairs instead of duplicating edges.
	count, err := store.Count(ctx, domain.KindRelation)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("relation count after rerun = %d, want 2", count)
	}
}

func TestResolveCrossStoreRelations_EmptyCatalog(t *testing.T) {
	_, store := newTestReconciler(t)
	resolver := NewRelationResolver(store, NewScorer(ScorerConfig{}), RelationResolverConfig{}, zap.NewNop())

	count, err := resolver.ResolveCrossStoreRelations(context.Background())
	if err != nil {
		t.Fatalf("ResolveCrossStoreRelations() error = %v", err)
	}
	if count != 0 {
		t.Errorf("relations written = %d, want 0", count)
	}
}

func TestSimilarInOtherStores(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	resolver := NewRelationResolver(store, NewScorer(ScorerConfig{}), RelationResolverConfig{}, zap.NewNop())
	ctx := context.Background()

	milkA, milkB := seedTwoStores(t, reconciler, store)

	similar, err := resolver.SimilarInOtherStores(ctx, milkA)
	if err != nil {
		t.Fatalf("SimilarInOtherStores() error = %v", err)
	}
	matches, ok := similar["Budget Foods"]
	if !ok || len(matches) != 1 {
		t.Fatalf("similar[Budget Foods] = %v, want exactly the milk counterpart", matches)
	}
	if matches[0].Product.ID != milkB {
		t.Errorf("match id = %s, want %s", matches[0].Product.ID, milkB)
	}
	if _, ok := similar["Acme Mart"]; ok {
		t.Error("own store appears in results")
	}
}
