package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pricepulse/backend/internal/domain"
)

// PostgresStorage is the relational backend. Schema and cascade behavior
// come from the gorm tags on the domain entities; AutoMigrate keeps the
// tables in sync at startup.
type PostgresStorage struct {
	db      *gorm.DB
	matcher domain.NameMatcher
	logger  *zap.Logger
}

// NewPostgresStorage opens a connection, migrates the schema and returns the
// backend.
func NewPostgresStorage(dsn string, matcher domain.NameMatcher, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres: %v", domain.ErrStorageUnavailable, err)
	}

	if err := db.AutoMigrate(
		&domain.Store{},
		&domain.Product{},
		&domain.Price{},
		&domain.ProductRelation{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("postgres storage ready")
	return &PostgresStorage{db: db, matcher: matcher, logger: logger}, nil
}

// translate maps gorm errors onto the storage port's failure taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", domain.ErrConstraintViolation, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}

// Stores

func (s *PostgresStorage) StoreByID(ctx context.Context, id string) (*domain.Store, error) {
	var store domain.Store
	if err := s.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &store, nil
}

func (s *PostgresStorage) StoreByName(ctx context.Context, name string) (*domain.Store, error) {
	var store domain.Store
	if err := s.db.WithContext(ctx).First(&store, "name = ?", name).Error; err != nil {
		return nil, translate(err)
	}
	return &store, nil
}

func (s *PostgresStorage) Stores(ctx context.Context) ([]domain.Store, error) {
	var stores []domain.Store
	if err := s.db.WithContext(ctx).Order("name").Find(&stores).Error; err != nil {
		return nil, translate(err)
	}
	return stores, nil
}

func (s *PostgresStorage) CreateStore(ctx context.Context, store *domain.Store) error {
	return translate(s.db.WithContext(ctx).Create(store).Error)
}

func (s *PostgresStorage) DeleteStore(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Store{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Products

func (s *PostgresStorage) ProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	if err := s.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (s *PostgresStorage) Products(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := s.db.WithContext(ctx).Order("name, id").Find(&products).Error; err != nil {
		return nil, translate(err)
	}
	return products, nil
}

func (s *PostgresStorage) ProductsByStore(ctx context.Context, storeID string) ([]domain.Product, error) {
	var products []domain.Product
	err := s.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("name, id").
		Find(&products).Error
	if err != nil {
		return nil, translate(err)
	}
	return products, nil
}

func (s *PostgresStorage) ProductsByStoreAndReferences(ctx context.Context, storeID string, references []int64) ([]domain.Product, error) {
	if len(references) == 0 {
		return nil, nil
	}
	var products []domain.Product
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND reference IN ?", storeID, references).
		Find(&products).Error
	if err != nil {
		return nil, translate(err)
	}
	return products, nil
}

func (s *PostgresStorage) CreateProduct(ctx context.Context, product *domain.Product) error {
	return translate(s.db.WithContext(ctx).Create(product).Error)
}

func (s *PostgresStorage) UpdateProduct(ctx context.Context, id string, update domain.ProductUpdate) (*domain.Product, error) {
	changes := map[string]any{}
	if update.Name != nil {
		changes["name"] = *update.Name
	}
	if update.Link != nil {
		changes["link"] = *update.Link
	}
	if update.Reference != nil {
		changes["reference"] = *update.Reference
	}
	if len(changes) > 0 {
		res := s.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", id).Updates(changes)
		if res.Error != nil {
			return nil, translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, domain.ErrNotFound
		}
	}
	return s.ProductByID(ctx, id)
}

func (s *PostgresStorage) DeleteProduct(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Product{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MergeProducts remaps the duplicate's prices and relation edges onto the
// kept product inside one transaction, dropping edges that would become
// self-loops or duplicate an existing pair, then deletes the duplicate row.
func (s *PostgresStorage) MergeProducts(ctx context.Context, keepID, duplicateID string) error {
	if keepID == duplicateID {
		return fmt.Errorf("%w: merging a product into itself", domain.ErrConstraintViolation)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range []string{keepID, duplicateID} {
			var product domain.Product
			if err := tx.First(&product, "id = ?", id).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&domain.Price{}).
			Where("product_id = ?", duplicateID).
			Update("product_id", keepID).Error; err != nil {
			return err
		}

		var relations []domain.ProductRelation
		if err := tx.Where("product_id = ? OR related_product_id = ?", duplicateID, duplicateID).
			Find(&relations).Error; err != nil {
			return err
		}
		seen := make(map[string]bool)
		var existing []domain.ProductRelation
		if err := tx.Where("product_id = ? OR related_product_id = ?", keepID, keepID).
			Find(&existing).Error; err != nil {
			return err
		}
		for _, rel := range existing {
			seen[rel.ProductID+"|"+rel.RelatedProductID] = true
		}
		for _, rel := range relations {
			if rel.ProductID == duplicateID {
				rel.ProductID = keepID
			}
			if rel.RelatedProductID == duplicateID {
				rel.RelatedProductID = keepID
			}
			pair := rel.ProductID + "|" + rel.RelatedProductID
			if rel.ProductID == rel.RelatedProductID || seen[pair] {
				if err := tx.Delete(&domain.ProductRelation{}, "id = ?", rel.ID).Error; err != nil {
					return err
				}
				continue
			}
			seen[pair] = true
			if err := tx.Model(&domain.ProductRelation{}).Where("id = ?", rel.ID).
				Updates(map[string]any{
					"product_id":         rel.ProductID,
					"related_product_id": rel.RelatedProductID,
				}).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&domain.Product{}, "id = ?", duplicateID).Error
	})
	return translate(err)
}

// SearchProducts pulls the candidate rows and ranks them in Go with the
// shared scorer, so both backends apply the identical threshold semantics.
func (s *PostgresStorage) SearchProducts(ctx context.Context, query, storeID string) ([]domain.ProductMatch, error) {
	var products []domain.Product
	q := s.db.WithContext(ctx)
	if storeID != "" {
		q = q.Where("store_id = ?", storeID)
	}
	if err := q.Find(&products).Error; err != nil {
		return nil, translate(err)
	}

	var matches []domain.ProductMatch
	for _, product := range products {
		if score, ok := s.matcher.Matches(query, product.Name); ok {
			matches = append(matches, domain.ProductMatch{Product: product, Score: score})
		}
	}
	sortMatches(matches)
	return matches, nil
}

// Prices

func (s *PostgresStorage) PriceByID(ctx context.Context, id string) (*domain.Price, error) {
	var price domain.Price
	if err := s.db.WithContext(ctx).First(&price, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &price, nil
}

func (s *PostgresStorage) PricesByProduct(ctx context.Context, productID string) ([]domain.Price, error) {
	var prices []domain.Price
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("fetched_at DESC, id DESC").
		Find(&prices).Error
	if err != nil {
		return nil, translate(err)
	}
	return prices, nil
}

func (s *PostgresStorage) LatestPrice(ctx context.Context, productID string) (*domain.Price, error) {
	var price domain.Price
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("fetched_at DESC, id DESC").
		First(&price).Error
	if err != nil {
		return nil, translate(err)
	}
	return &price, nil
}

func (s *PostgresStorage) CreatePrice(ctx context.Context, price *domain.Price) error {
	if price.FetchedAt.IsZero() {
		price.FetchedAt = time.Now()
	}
	return translate(s.db.WithContext(ctx).Create(price).Error)
}

func (s *PostgresStorage) BumpPriceFetchedAt(ctx context.Context, priceID string, fetchedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&domain.Price{}).
		Where("id = ?", priceID).
		Update("fetched_at", fetchedAt)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) DeletePrice(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Price{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) DiscountedPricesBetween(ctx context.Context, from, to time.Time) ([]domain.Price, error) {
	var prices []domain.Price
	err := s.db.WithContext(ctx).
		Where("is_discount = ? AND fetched_at >= ? AND fetched_at < ?", true, from, to).
		Order("fetched_at DESC, id DESC").
		Find(&prices).Error
	if err != nil {
		return nil, translate(err)
	}
	return prices, nil
}

// Relations

func (s *PostgresStorage) RelationsForProduct(ctx context.Context, productID string) ([]domain.ProductRelation, error) {
	var relations []domain.ProductRelation
	err := s.db.WithContext(ctx).
		Where("product_id = ? OR related_product_id = ?", productID, productID).
		Order("similarity_score DESC, id").
		Find(&relations).Error
	if err != nil {
		return nil, translate(err)
	}
	return relations, nil
}

func (s *PostgresStorage) Count(ctx context.Context, kind domain.Kind) (int64, error) {
	models := map[domain.Kind]any{
		domain.KindStore:    &domain.Store{},
		domain.KindProduct:  &domain.Product{},
		domain.KindPrice:    &domain.Price{},
		domain.KindRelation: &domain.ProductRelation{},
	}
	if kind == "" {
		var total int64
		for _, model := range models {
			var count int64
			if err := s.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
				return 0, translate(err)
			}
			total += count
		}
		return total, nil
	}
	model, ok := models[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Unit of work

type postgresTx struct {
	tx   *gorm.DB
	done bool
}

func (s *PostgresStorage) Begin(ctx context.Context) (domain.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, translate(tx.Error)
	}
	return &postgresTx{tx: tx}, nil
}

// InsertProducts flushes the rows inside the open transaction so prices
// staged afterwards can reference them; nothing is durable before Commit.
func (t *postgresTx) InsertProducts(ctx context.Context, products []*domain.Product) error {
	if t.done {
		return domain.ErrTxDone
	}
	if len(products) == 0 {
		return nil
	}
	return translate(t.tx.Create(products).Error)
}

func (t *postgresTx) InsertPrices(ctx context.Context, prices []*domain.Price) error {
	if t.done {
		return domain.ErrTxDone
	}
	if len(prices) == 0 {
		return nil
	}
	return translate(t.tx.Create(prices).Error)
}

func (t *postgresTx) UpsertRelations(ctx context.Context, relations []*domain.ProductRelation) error {
	if t.done {
		return domain.ErrTxDone
	}
	if len(relations) == 0 {
		return nil
	}
	return translate(t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "related_product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"similarity_score", "updated_at"}),
	}).Create(relations).Error)
}

func (t *postgresTx) Commit() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	return translate(t.tx.Commit().Error)
}

func (t *postgresTx) Rollback() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	return translate(t.tx.Rollback().Error)
}

func sortMatches(matches []domain.ProductMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Product.Name < matches[j].Product.Name
		}
		return matches[i].Score > matches[j].Score
	})
}
