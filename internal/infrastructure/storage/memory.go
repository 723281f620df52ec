package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
)

// MemoryStorage is the in-memory backend: a mutex-guarded arena of entities
// keyed by id, optionally persisted as a JSON snapshot file so restarts keep
// the data. It satisfies the same contract as the relational backend,
// including cascade deletes.
type MemoryStorage struct {
	mu        sync.RWMutex
	stores    map[string]domain.Store
	products  map[string]domain.Product
	prices    map[string]domain.Price
	relations map[string]domain.ProductRelation

	matcher      domain.NameMatcher
	snapshotPath string
	logger       *zap.Logger
	now          func() time.Time
}

type snapshot struct {
	Stores    []domain.Store           `json:"stores"`
	Products  []domain.Product         `json:"products"`
	Prices    []domain.Price           `json:"prices"`
	Relations []domain.ProductRelation `json:"relations"`
}

// NewMemoryStorage creates the in-memory backend. When snapshotPath is
// non-empty, an existing snapshot is loaded and every committed mutation
// rewrites it.
func NewMemoryStorage(snapshotPath string, matcher domain.NameMatcher, logger *zap.Logger) (*MemoryStorage, error) {
	s := &MemoryStorage{
		stores:       make(map[string]domain.Store),
		products:     make(map[string]domain.Product),
		prices:       make(map[string]domain.Price),
		relations:    make(map[string]domain.ProductRelation),
		matcher:      matcher,
		snapshotPath: snapshotPath,
		logger:       logger,
		now:          time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStorage) load() error {
	if s.snapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot %s: %w", s.snapshotPath, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", s.snapshotPath, err)
	}
	for _, st := range snap.Stores {
		s.stores[st.ID] = st
	}
	for _, p := range snap.Products {
		s.products[p.ID] = p
	}
	for _, p := range snap.Prices {
		s.prices[p.ID] = p
	}
	for _, rel := range snap.Relations {
		s.relations[rel.ID] = rel
	}
	s.logger.Info("snapshot loaded",
		zap.String("path", s.snapshotPath),
		zap.Int("stores", len(s.stores)),
		zap.Int("products", len(s.products)),
		zap.Int("prices", len(s.prices)))
	return nil
}

// persistLocked writes the snapshot file. Callers hold the write lock.
func (s *MemoryStorage) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	snap := snapshot{
		Stores:    make([]domain.Store, 0, len(s.stores)),
		Products:  make([]domain.Product, 0, len(s.products)),
		Prices:    make([]domain.Price, 0, len(s.prices)),
		Relations: make([]domain.ProductRelation, 0, len(s.relations)),
	}
	for _, st := range s.stores {
		st.Products = nil
		snap.Stores = append(snap.Stores, st)
	}
	for _, p := range s.products {
		p.Prices = nil
		snap.Products = append(snap.Products, p)
	}
	for _, p := range s.prices {
		snap.Prices = append(snap.Prices, p)
	}
	for _, rel := range s.relations {
		snap.Relations = append(snap.Relations, rel)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Stores

func (s *MemoryStorage) StoreByID(ctx context.Context, id string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	store, ok := s.stores[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &store, nil
}

func (s *MemoryStorage) StoreByName(ctx context.Context, name string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, store := range s.stores {
		if store.Name == name {
			store := store
			return &store, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStorage) Stores(ctx context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stores := make([]domain.Store, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	return stores, nil
}

func (s *MemoryStorage) CreateStore(ctx context.Context, store *domain.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stores[store.ID]; exists {
		return fmt.Errorf("%w: store id %s", domain.ErrConstraintViolation, store.ID)
	}
	for _, existing := range s.stores {
		if existing.Name == store.Name {
			return fmt.Errorf("%w: store name %q", domain.ErrConstraintViolation, store.Name)
		}
	}
	now := s.now()
	store.CreatedAt = now
	store.UpdatedAt = now
	s.stores[store.ID] = *store
	return s.persistLocked()
}

func (s *MemoryStorage) DeleteStore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[id]; !ok {
		return domain.ErrNotFound
	}
	for productID, product := range s.products {
		if product.StoreID == id {
			s.deleteProductLocked(productID)
		}
	}
	delete(s.stores, id)
	return s.persistLocked()
}

// Products

func (s *MemoryStorage) ProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &product, nil
}

func (s *MemoryStorage) Products(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	sortProducts(products)
	return products, nil
}

func (s *MemoryStorage) ProductsByStore(ctx context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var products []domain.Product
	for _, product := range s.products {
		if product.StoreID == storeID {
			products = append(products, product)
		}
	}
	sortProducts(products)
	return products, nil
}

func (s *MemoryStorage) ProductsByStoreAndReferences(ctx context.Context, storeID string, references []int64) ([]domain.Product, error) {
	wanted := make(map[int64]bool, len(references))
	for _, ref := range references {
		wanted[ref] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var products []domain.Product
	for _, product := range s.products {
		if product.StoreID == storeID && wanted[product.Reference] {
			products = append(products, product)
		}
	}
	sortProducts(products)
	return products, nil
}

func (s *MemoryStorage) CreateProduct(ctx context.Context, product *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("%w: product id %s", domain.ErrConstraintViolation, product.ID)
	}
	if _, ok := s.stores[product.StoreID]; !ok {
		return fmt.Errorf("%w: unknown store %s", domain.ErrConstraintViolation, product.StoreID)
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = *product
	return s.persistLocked()
}

func (s *MemoryStorage) UpdateProduct(ctx context.Context, id string, update domain.ProductUpdate) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if update.Name != nil {
		product.Name = *update.Name
	}
	if update.Link != nil {
		product.Link = *update.Link
	}
	if update.Reference != nil {
		product.Reference = *update.Reference
	}
	product.UpdatedAt = s.now()
	s.products[id] = product
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *MemoryStorage) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return domain.ErrNotFound
	}
	s.deleteProductLocked(id)
	return s.persistLocked()
}

// deleteProductLocked cascades: prices and relation edges on either side go
// with the product.
func (s *MemoryStorage) deleteProductLocked(id string) {
	for priceID, price := range s.prices {
		if price.ProductID == id {
			delete(s.prices, priceID)
		}
	}
	for relationID, relation := range s.relations {
		if relation.ProductID == id || relation.RelatedProductID == id {
			delete(s.relations, relationID)
		}
	}
	delete(s.products, id)
}

func (s *MemoryStorage) MergeProducts(ctx context.Context, keepID, duplicateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[keepID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.products[duplicateID]; !ok {
		return domain.ErrNotFound
	}
	if keepID == duplicateID {
		return fmt.Errorf("%w: merging a product into itself", domain.ErrConstraintViolation)
	}

	for priceID, price := range s.prices {
		if price.ProductID == duplicateID {
			price.ProductID = keepID
			price.UpdatedAt = s.now()
			s.prices[priceID] = price
		}
	}
	seen := make(map[string]bool)
	for relationID, relation := range s.relations {
		if relation.ProductID == duplicateID {
			relation.ProductID = keepID
		}
		if relation.RelatedProductID == duplicateID {
			relation.RelatedProductID = keepID
		}
		pair := relation.ProductID + "|" + relation.RelatedProductID
		if relation.ProductID == relation.RelatedProductID || seen[pair] {
			delete(s.relations, relationID)
			continue
		}
		seen[pair] = true
		s.relations[relationID] = relation
	}
	delete(s.products, duplicateID)
	return s.persistLocked()
}

func (s *MemoryStorage) SearchProducts(ctx context.Context, query, storeID string) ([]domain.ProductMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []domain.ProductMatch
	for _, product := range s.products {
		if storeID != "" && product.StoreID != storeID {
			continue
		}
		if score, ok := s.matcher.Matches(query, product.Name); ok {
			matches = append(matches, domain.ProductMatch{Product: product, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Product.Name < matches[j].Product.Name
		}
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// Prices

func (s *MemoryStorage) PriceByID(ctx context.Context, id string) (*domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &price, nil
}

func (s *MemoryStorage) PricesByProduct(ctx context.Context, productID string) ([]domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var prices []domain.Price
	for _, price := range s.prices {
		if price.ProductID == productID {
			prices = append(prices, price)
		}
	}
	domain.SortPricesDesc(prices)
	return prices, nil
}

func (s *MemoryStorage) LatestPrice(ctx context.Context, productID string) (*domain.Price, error) {
	prices, err := s.PricesByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	latest := domain.LatestOf(prices)
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStorage) CreatePrice(ctx context.Context, price *domain.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.prices[price.ID]; exists {
		return fmt.Errorf("%w: price id %s", domain.ErrConstraintViolation, price.ID)
	}
	if _, ok := s.products[price.ProductID]; !ok {
		return fmt.Errorf("%w: unknown product %s", domain.ErrConstraintViolation, price.ProductID)
	}
	now := s.now()
	if price.FetchedAt.IsZero() {
		price.FetchedAt = now
	}
	price.CreatedAt = now
	price.UpdatedAt = now
	s.prices[price.ID] = *price
	return s.persistLocked()
}

func (s *MemoryStorage) BumpPriceFetchedAt(ctx context.Context, priceID string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[priceID]
	if !ok {
		return domain.ErrNotFound
	}
	price.FetchedAt = fetchedAt
	price.UpdatedAt = s.now()
	s.prices[priceID] = price
	return s.persistLocked()
}

func (s *MemoryStorage) DeletePrice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.prices, id)
	return s.persistLocked()
}

func (s *MemoryStorage) DiscountedPricesBetween(ctx context.Context, from, to time.Time) ([]domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var prices []domain.Price
	for _, price := range s.prices {
		if price.IsDiscount && !price.FetchedAt.Before(from) && price.FetchedAt.Before(to) {
			prices = append(prices, price)
		}
	}
	domain.SortPricesDesc(prices)
	return prices, nil
}

// Relations

func (s *MemoryStorage) RelationsForProduct(ctx context.Context, productID string) ([]domain.ProductRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var relations []domain.ProductRelation
	for _, relation := range s.relations {
		if relation.ProductID == productID || relation.RelatedProductID == productID {
			relations = append(relations, relation)
		}
	}
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].SimilarityScore == relations[j].SimilarityScore {
			return relations[i].ID < relations[j].ID
		}
		return relations[i].SimilarityScore > relations[j].SimilarityScore
	})
	return relations, nil
}

func (s *MemoryStorage) Count(ctx context.Context, kind domain.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case domain.KindStore:
		return int64(len(s.stores)), nil
	case domain.KindProduct:
		return int64(len(s.products)), nil
	case domain.KindPrice:
		return int64(len(s.prices)), nil
	case domain.KindRelation:
		return int64(len(s.relations)), nil
	case "":
		return int64(len(s.stores) + len(s.products) + len(s.prices) + len(s.relations)), nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Unit of work

type memoryTx struct {
	storage   *MemoryStorage
	products  []*domain.Product
	prices    []*domain.Price
	relations []*domain.ProductRelation
	done      bool
}

func (s *MemoryStorage) Begin(ctx context.Context) (domain.Tx, error) {
	return &memoryTx{storage: s}, nil
}

func (t *memoryTx) InsertProducts(ctx context.Context, products []*domain.Product) error {
	if t.done {
		return domain.ErrTxDone
	}
	t.products = append(t.products, products...)
	return nil
}

func (t *memoryTx) InsertPrices(ctx context.Context, prices []*domain.Price) error {
	if t.done {
		return domain.ErrTxDone
	}
	t.prices = append(t.prices, prices...)
	return nil
}

func (t *memoryTx) UpsertRelations(ctx context.Context, relations []*domain.ProductRelation) error {
	if t.done {
		return domain.ErrTxDone
	}
	t.relations = append(t.relations, relations...)
	return nil
}

// Commit applies everything staged under one lock and persists once.
// Nothing becomes visible before this point; constraint checks run first so
// a violation leaves the arena untouched.
func (t *memoryTx) Commit() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true

	s := t.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, product := range t.products {
		if _, exists := s.products[product.ID]; exists {
			return fmt.Errorf("%w: product id %s", domain.ErrConstraintViolation, product.ID)
		}
	}
	for _, price := range t.prices {
		if _, exists := s.prices[price.ID]; exists {
			return fmt.Errorf("%w: price id %s", domain.ErrConstraintViolation, price.ID)
		}
	}

	now := s.now()
	for _, product := range t.products {
		product.CreatedAt = now
		product.UpdatedAt = now
		s.products[product.ID] = *product
	}
	for _, price := range t.prices {
		if price.FetchedAt.IsZero() {
			price.FetchedAt = now
		}
		price.CreatedAt = now
		price.UpdatedAt = now
		s.prices[price.ID] = *price
	}
	for _, relation := range t.relations {
		if existingID, ok := s.relationPairLocked(relation.ProductID, relation.RelatedProductID); ok {
			existing := s.relations[existingID]
			existing.SimilarityScore = relation.SimilarityScore
			existing.UpdatedAt = now
			s.relations[existingID] = existing
			continue
		}
		relation.CreatedAt = now
		relation.UpdatedAt = now
		s.relations[relation.ID] = *relation
	}
	return s.persistLocked()
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	t.products = nil
	t.prices = nil
	t.relations = nil
	return nil
}

func (s *MemoryStorage) relationPairLocked(productID, relatedProductID string) (string, bool) {
	for id, relation := range s.relations {
		if relation.ProductID == productID && relation.RelatedProductID == relatedProductID {
			return id, true
		}
	}
	return "", false
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name == products[j].Name {
			return products[i].ID < products[j].ID
		}
		return products[i].Name < products[j].Name
	})
}
