package domain

import (
	"sort"
	"time"
)

// Kind identifies an entity type for count/stat queries.
type Kind string

const (
	KindStore    Kind = "Store"
	KindProduct  Kind = "Product"
	KindPrice    Kind = "Price"
	KindRelation Kind = "ProductRelation"
)

// Kinds lists every entity kind, in the order stats are reported.
var Kinds = []Kind{KindStore, KindProduct, KindPrice, KindRelation}

// Store is the identity anchor for a retailer. A store owns its products;
// deleting a store deletes them.
type Store struct {
	ID        string    `gorm:"primaryKey;size:60" json:"id"`
	Name      string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Products []Product `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE" json:"products,omitempty"`
}

// Product is a sellable item at one store. Reference is the store-assigned
// catalog identifier and the authoritative dedup key within a store;
// (StoreID, Reference) should be unique in steady state, though transient
// duplicates from legacy name-based matching are tolerated and resolved
// through MergeProducts.
type Product struct {
	ID        string    `gorm:"primaryKey;size:60" json:"id"`
	StoreID   string    `gorm:"size:60;index;not null" json:"store_id"`
	Name      string    `gorm:"size:255;index;not null" json:"name"`
	Link      string    `gorm:"size:255" json:"link"`
	Reference int64     `gorm:"index" json:"reference"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Prices           []Price           `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"prices,omitempty"`
	Relations        []ProductRelation `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
	ReverseRelations []ProductRelation `gorm:"foreignKey:RelatedProductID;constraint:OnDelete:CASCADE" json:"-"`
}

// Price is one observation of a product's price. Rows are append-only except
// for the single allowed mutation: moving FetchedAt forward when a duplicate
// observation of an unchanged amount arrives later than the stored one.
type Price struct {
	ID         string    `gorm:"primaryKey;size:60" json:"id"`
	ProductID  string    `gorm:"size:60;index;not null" json:"product_id"`
	Amount     float64   `json:"amount"`
	IsDiscount bool      `json:"is_discount"`
	FetchedAt  time.Time `gorm:"index" json:"fetched_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductRelation is a directed, weighted similarity edge between products
// in different stores believed to be the same real-world item. Lookups must
// be direction-agnostic even though the edge is stored directed.
type ProductRelation struct {
	ID               string    `gorm:"primaryKey;size:60" json:"id"`
	ProductID        string    `gorm:"size:60;index:idx_relation_pair,unique;not null" json:"product_id"`
	RelatedProductID string    `gorm:"size:60;index:idx_relation_pair,unique;not null" json:"related_product_id"`
	SimilarityScore  float64   `json:"similarity_score"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SortPricesDesc orders prices by FetchedAt descending. Ties are broken by ID
// so the ordering stays deterministic across runs.
func SortPricesDesc(prices []Price) {
	sort.Slice(prices, func(i, j int) bool {
		if prices[i].FetchedAt.Equal(prices[j].FetchedAt) {
			return prices[i].ID > prices[j].ID
		}
		return prices[i].FetchedAt.After(prices[j].FetchedAt)
	})
}

// LatestOf returns the price with the maximum FetchedAt, or nil for an empty
// history.
func LatestOf(prices []Price) *Price {
	if len(prices) == 0 {
		return nil
	}
	sorted := make([]Price, len(prices))
	copy(sorted, prices)
	SortPricesDesc(sorted)
	return &sorted[0]
}

// RollingAverage averages the most recent n amounts of a price history.
// Returns 0 for an empty history; shorter histories average what exists.
func RollingAverage(prices []Price, n int) float64 {
	if len(prices) == 0 || n <= 0 {
		return 0
	}
	sorted := make([]Price, len(prices))
	copy(sorted, prices)
	SortPricesDesc(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	var sum float64
	for _, p := range sorted[:n] {
		sum += p.Amount
	}
	return sum / float64(n)
}
