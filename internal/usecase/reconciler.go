package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
)

// Decision classifies what the engine did with one scraped item.
type Decision int

const (
	// DecisionSkipped: the item failed in isolation and was dropped.
	DecisionSkipped Decision = iota
	// DecisionCreated: unknown reference, a new product and its first price
	// were created.
	DecisionCreated
	// DecisionPriceAppended: known product, the amount changed (or the
	// observation was not newer), a new price row was appended.
	DecisionPriceAppended
	// DecisionBumped: duplicate observation of an unchanged price; only the
	// stored FetchedAt moved forward.
	DecisionBumped
)

func (d Decision) String() string {
	switch d {
	case DecisionCreated:
		return "created"
	case DecisionPriceAppended:
		return "price_appended"
	case DecisionBumped:
		return "timestamp_bumped"
	default:
		return "skipped"
	}
}

// ItemOutcome is the per-item result of a reconciliation batch.
type ItemOutcome struct {
	Name      string
	Reference string
	Decision  Decision
	Err       error
}

// Reconciler resolves a batch of scraped price records against known
// products and decides create vs. append vs. timestamp bump per item.
type Reconciler struct {
	storage domain.Storage
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciliation engine over the given storage.
func NewReconciler(storage domain.Storage, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// NormalizeReference canonicalizes a scraped item reference: trim
// whitespace, coerce to an integer. Failure is a per-item error, never a
// batch one.
func NormalizeReference(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	ref, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidReference, raw)
	}
	return ref, nil
}

// shouldBump is the single source of truth for the dedup comparison: an
// unchanged amount observed strictly later than the stored observation only
// refreshes recency, it does not add price-history noise.
func shouldBump(latest *domain.Price, amount float64, observedAt time.Time) bool {
	return latest != nil && latest.Amount == amount && latest.FetchedAt.Before(observedAt)
}

// Reconcile processes one scraper batch for the named store. The store is
// resolved (created if absent) first; known products are bulk-resolved in a
// single round trip; each item is then classified independently, with
// per-item failures isolated, and all new rows are committed in one unit of
// work at the end.
//
// A non-nil error means the batch as a whole failed (storage unavailable or
// the final commit failed); the returned outcomes then describe staging
// decisions that were never made durable. Resubmitting an identical batch is
// safe: unchanged prices degrade to timestamp bumps.
func (r *Reconciler) Reconcile(ctx context.Context, storeName string, items []domain.ScrapeItem) ([]ItemOutcome, error) {
	store, err := r.resolveStore(ctx, storeName)
	if err != nil {
		return nil, err
	}

	known, err := r.resolveKnownProducts(ctx, store.ID, items)
	if err != nil {
		return nil, fmt.Errorf("resolving known products for store %q: %w", storeName, err)
	}

	outcomes := make([]ItemOutcome, 0, len(items))
	var newProducts []*domain.Product
	var newPrices []*domain.Price

	for _, item := range items {
		outcome := ItemOutcome{Name: item.Name, Reference: item.Reference}

		ref, err := NormalizeReference(item.Reference)
		if err != nil {
			outcome.Err = err
			outcomes = append(outcomes, r.skip(storeName, outcome))
			continue
		}
		if math.IsNaN(item.Amount) {
			outcome.Err = fmt.Errorf("%w: item %q", domain.ErrInvalidAmount, item.Name)
			outcomes = append(outcomes, r.skip(storeName, outcome))
			continue
		}

		observedAt := r.now()
		if item.FetchedAt != nil {
			observedAt = *item.FetchedAt
		}

		product, exists := known[ref]
		if !exists {
			newProduct := &domain.Product{
				ID:        uuid.NewString(),
				StoreID:   store.ID,
				Name:      item.Name,
				Link:      item.Link,
				Reference: ref,
			}
			newProducts = append(newProducts, newProduct)
			newPrices = append(newPrices, &domain.Price{
				ID:         uuid.NewString(),
				ProductID:  newProduct.ID,
				Amount:     item.Amount,
				IsDiscount: item.Discounted,
				FetchedAt:  observedAt,
			})
			outcome.Decision = DecisionCreated
			outcomes = append(outcomes, outcome)
			continue
		}

		latest, err := r.latestPrice(ctx, product.ID)
		if err != nil {
			if errors.Is(err, domain.ErrStorageUnavailable) {
				return outcomes, err
			}
			outcome.Err = err
			outcomes = append(outcomes, r.skip(storeName, outcome))
			continue
		}

		if shouldBump(latest, item.Amount, observedAt) {
			if err := r.storage.BumpPriceFetchedAt(ctx, latest.ID, observedAt); err != nil {
				if errors.Is(err, domain.ErrStorageUnavailable) {
					return outcomes, err
				}
				outcome.Err = err
				outcomes = append(outcomes, r.skip(storeName, outcome))
				continue
			}
			outcome.Decision = DecisionBumped
			outcomes = append(outcomes, outcome)
			continue
		}

		newPrices = append(newPrices, &domain.Price{
			ID:         uuid.NewString(),
			ProductID:  product.ID,
			Amount:     item.Amount,
			IsDiscount: item.Discounted,
			FetchedAt:  observedAt,
		})
		outcome.Decision = DecisionPriceAppended
		outcomes = append(outcomes, outcome)
	}

	if err := r.commitBatch(ctx, newProducts, newPrices); err != nil {
		r.logger.Error("batch commit failed",
			zap.String("store", storeName),
			zap.Int("new_products", len(newProducts)),
			zap.Int("new_prices", len(newPrices)),
			zap.Error(err))
		return outcomes, fmt.Errorf("committing batch for store %q: %w", storeName, err)
	}

	r.logger.Debug("batch reconciled",
		zap.String("store", storeName),
		zap.Int("items", len(items)),
		zap.Int("new_products", len(newProducts)),
		zap.Int("new_prices", len(newPrices)))
	return outcomes, nil
}

// RecordPrice applies one price observation to a known product outside the
// batch path (the price POST endpoint). It follows the same dedup rule as
// the engine: bump on an unchanged amount observed later, append otherwise.
// The returned bool reports whether a new row was created.
func (r *Reconciler) RecordPrice(ctx context.Context, product *domain.Product, amount float64, isDiscount bool, fetchedAt *time.Time) (*domain.Price, bool, error) {
	observedAt := r.now()
	if fetchedAt != nil {
		observedAt = *fetchedAt
	}

	latest, err := r.latestPrice(ctx, product.ID)
	if err != nil {
		return nil, false, err
	}

	if shouldBump(latest, amount, observedAt) {
		if err := r.storage.BumpPriceFetchedAt(ctx, latest.ID, observedAt); err != nil {
			return nil, false, err
		}
		latest.FetchedAt = observedAt
		return latest, false, nil
	}

	price := &domain.Price{
		ID:         uuid.NewString(),
		ProductID:  product.ID,
		Amount:     amount,
		IsDiscount: isDiscount,
		FetchedAt:  observedAt,
	}
	if err := r.storage.CreatePrice(ctx, price); err != nil {
		return nil, false, err
	}
	return price, true, nil
}

// resolveStore looks a store up by name, creating and persisting it
// immediately when absent. Store creation is its own commit so later product
// writes have a valid owner.
func (r *Reconciler) resolveStore(ctx context.Context, storeName string) (*domain.Store, error) {
	store, err := r.storage.StoreByName(ctx, storeName)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("resolving store %q: %w", storeName, err)
	}

	store = &domain.Store{ID: uuid.NewString(), Name: storeName}
	if err := r.storage.CreateStore(ctx, store); err != nil {
		// Lost a race with a concurrent batch on the same store: re-read.
		if errors.Is(err, domain.ErrConstraintViolation) {
			return r.storage.StoreByName(ctx, storeName)
		}
		return nil, fmt.Errorf("creating store %q: %w", storeName, err)
	}
	r.logger.Info("store created", zap.String("store", storeName))
	return store, nil
}

// resolveKnownProducts issues the one bulk lookup of the batch and builds
// the reference -> product map for O(1) per-item resolution.
func (r *Reconciler) resolveKnownProducts(ctx context.Context, storeID string, items []domain.ScrapeItem) (map[int64]domain.Product, error) {
	references := make([]int64, 0, len(items))
	for _, item := range items {
		if ref, err := NormalizeReference(item.Reference); err == nil {
			references = append(references, ref)
		}
	}

	known := make(map[int64]domain.Product, len(references))
	if len(references) == 0 {
		return known, nil
	}

	products, err := r.storage.ProductsByStoreAndReferences(ctx, storeID, references)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		known[p.Reference] = p
	}
	return known, nil
}

func (r *Reconciler) latestPrice(ctx context.Context, productID string) (*domain.Price, error) {
	latest, err := r.storage.LatestPrice(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return latest, err
}

// commitBatch bulk-inserts staged products before staged prices inside one
// unit of work, then commits once. All-or-nothing.
func (r *Reconciler) commitBatch(ctx context.Context, products []*domain.Product, prices []*domain.Price) error {
	if len(products) == 0 && len(prices) == 0 {
		return nil
	}

	tx, err := r.storage.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.InsertProducts(ctx, products); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.InsertPrices(ctx, prices); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Reconciler) skip(storeName string, outcome ItemOutcome) ItemOutcome {
	r.logger.Warn("item skipped",
		zap.String("store", storeName),
		zap.String("item", outcome.Name),
		zap.String("reference", outcome.Reference),
		zap.Error(outcome.Err))
	return outcome
}
