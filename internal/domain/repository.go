package domain

import (
	"context"
	"time"
)

// NameMatcher scores a query string against a candidate name. Storage
// backends use it to rank fuzzy product searches so both backends gate on
// the same threshold.
type NameMatcher interface {
	// Score returns the raw similarity score in [0, 110].
	Score(query, candidate string) float64
	// Matches reports the score and whether it clears the search threshold.
	Matches(query, candidate string) (float64, bool)
}

// ProductMatch is one ranked fuzzy-search result.
type ProductMatch struct {
	Product Product `json:"product"`
	Score   float64 `json:"score"`
}

// ProductUpdate names the mutable fields of a product. Nil fields are left
// untouched.
type ProductUpdate struct {
	Name      *string
	Link      *string
	Reference *int64
}

// Tx is one unit of work. Inserts are staged against the backend but none of
// them become durable before Commit; Rollback discards everything staged.
// Products are flushed before prices inside the same transaction so new
// prices can reference products staged in the same unit.
type Tx interface {
	InsertProducts(ctx context.Context, products []*Product) error
	InsertPrices(ctx context.Context, prices []*Price) error
	// UpsertRelations inserts relation edges, refreshing the score of any
	// existing edge with the same (product, related product) pair.
	UpsertRelations(ctx context.Context, relations []*ProductRelation) error
	Commit() error
	Rollback() error
}

// Storage is the port the reconciliation engine and the read paths depend
// on. Both backends (in-memory/file-backed and relational) satisfy it
// identically; nothing above this interface knows which one is wired in.
//
// Error contract: lookups return ErrNotFound for zero matches; any operation
// may fail with ErrStorageUnavailable (fatal to the caller's batch) or, on
// writes, ErrConstraintViolation (recoverable per record).
type Storage interface {
	// Stores
	StoreByID(ctx context.Context, id string) (*Store, error)
	StoreByName(ctx context.Context, name string) (*Store, error)
	Stores(ctx context.Context) ([]Store, error)
	CreateStore(ctx context.Context, store *Store) error
	DeleteStore(ctx context.Context, id string) error

	// Products
	ProductByID(ctx context.Context, id string) (*Product, error)
	Products(ctx context.Context) ([]Product, error)
	ProductsByStore(ctx context.Context, storeID string) ([]Product, error)
	// ProductsByStoreAndReferences is the bulk existence check used once per
	// ingestion batch instead of one lookup per item. An empty result is not
	// an error here: a batch of entirely new products is a normal case.
	ProductsByStoreAndReferences(ctx context.Context, storeID string, references []int64) ([]Product, error)
	CreateProduct(ctx context.Context, product *Product) error
	UpdateProduct(ctx context.Context, id string, update ProductUpdate) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error
	// MergeProducts moves the duplicate's prices and relations onto the kept
	// product and deletes the duplicate.
	MergeProducts(ctx context.Context, keepID, duplicateID string) error
	// SearchProducts ranks products against query using the NameMatcher,
	// best first, keeping only matches at or above the search threshold.
	// storeID narrows the search to one store when non-empty.
	SearchProducts(ctx context.Context, query, storeID string) ([]ProductMatch, error)

	// Prices
	PriceByID(ctx context.Context, id string) (*Price, error)
	PricesByProduct(ctx context.Context, productID string) ([]Price, error)
	// LatestPrice returns the price with the maximum FetchedAt for the
	// product, or ErrNotFound when the product has no price history.
	LatestPrice(ctx context.Context, productID string) (*Price, error)
	CreatePrice(ctx context.Context, price *Price) error
	// BumpPriceFetchedAt is the single allowed price mutation: it moves
	// FetchedAt forward. Callers guarantee monotonicity.
	BumpPriceFetchedAt(ctx context.Context, priceID string, fetchedAt time.Time) error
	DeletePrice(ctx context.Context, id string) error
	DiscountedPricesBetween(ctx context.Context, from, to time.Time) ([]Price, error)

	// Relations, direction-agnostic: edges where the product is source or
	// target.
	RelationsForProduct(ctx context.Context, productID string) ([]ProductRelation, error)

	Count(ctx context.Context, kind Kind) (int64, error)
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
