package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
	"github.com/pricepulse/backend/internal/usecase"
)

const pageSize = 100

// payloadStructure documents the expected scrape submission shape; it is
// echoed back on validation failures so scraper authors can self-serve.
const payloadStructure = `{
    "store" <string, required>: name of the store,
    "api_key" <string, required>: valid API key,
    "prices" <list, required>: [
        {
            "item_name" <string, required>: unique name of the item,
            "item_link" <string, required>: in-store link to the item,
            "item_price" <number, required>: price of the product,
            "item_discount" <any, optional>: presence implies a discounted price,
            "item_reference" <string|int, required>: store product id,
            "fetched_at" <ISO-8601, optional>: observation timestamp
        }, ...
    ]
}`

// Handler holds dependencies for HTTP handlers
type Handler struct {
	storage    domain.Storage
	ingest     *usecase.IngestService
	reconciler *usecase.Reconciler
	resolver   *usecase.RelationResolver
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	storage domain.Storage,
	ingest *usecase.IngestService,
	reconciler *usecase.Reconciler,
	resolver *usecase.RelationResolver,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		storage:    storage,
		ingest:     ingest,
		reconciler: reconciler,
		resolver:   resolver,
		logger:     logger,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pricepulse-backend",
		"version": "1.0.0",
	})
}

// Status reports API liveness.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// Stats reports per-entity object counts.
func (h *Handler) Stats(c *gin.Context) {
	stats := gin.H{}
	for _, kind := range domain.Kinds {
		count, err := h.storage.Count(c.Request.Context(), kind)
		if err != nil {
			h.fail(c, err)
			return
		}
		stats[string(kind)] = count
	}
	c.JSON(http.StatusOK, stats)
}

// SubmitScrape accepts a scraper submission. Validation failures come back
// synchronously; accepted batches are reconciled by the worker pool and the
// response is an immediate empty acknowledgment regardless of the eventual
// reconciliation outcome.
func (h *Handler) SubmitScrape(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    domain.RejectNotAMapping.String(),
			"code":     int(domain.RejectNotAMapping),
			"expected": payloadStructure,
		})
		return
	}
	if reason := h.ingest.Submit(payload); reason != domain.RejectNone {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    reason.String(),
			"code":     int(reason),
			"expected": payloadStructure,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// Stores

// ListStores returns every store.
func (h *Handler) ListStores(c *gin.Context) {
	stores, err := h.storage.Stores(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stores)
}

// GetStore returns one store by id.
func (h *Handler) GetStore(c *gin.Context) {
	store, err := h.storage.StoreByID(c.Request.Context(), c.Param("store_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, store)
}

type createStoreRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateStore creates a store.
func (h *Handler) CreateStore(c *gin.Context) {
	var req createStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	store := &domain.Store{ID: newID(), Name: req.Name}
	if err := h.storage.CreateStore(c.Request.Context(), store); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, store)
}

// DeleteStore deletes a store and, by cascade, its products and their
// prices.
func (h *Handler) DeleteStore(c *gin.Context) {
	if err := h.storage.DeleteStore(c.Request.Context(), c.Param("store_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// Products

// ListProducts returns all products with latest price and price count,
// paginated.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.storage.Products(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.productViews(c, paginate(products, c.Query("page"))))
}

// ListStoreProducts returns one store's products, addressed by store id or,
// on the /stores_name route, by store name.
func (h *Handler) ListStoreProducts(c *gin.Context) {
	store, err := h.resolveStoreParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	products, err := h.storage.ProductsByStore(c.Request.Context(), store.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.productViews(c, paginate(products, c.Query("page"))))
}

type createProductRequest struct {
	Name      string `json:"name" binding:"required"`
	Link      string `json:"link" binding:"required"`
	Reference int64  `json:"reference" binding:"required"`
}

// CreateProduct creates a product under a store.
func (h *Handler) CreateProduct(c *gin.Context) {
	store, err := h.resolveStoreParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name, link or reference"})
		return
	}
	product := &domain.Product{
		ID:        newID(),
		StoreID:   store.ID,
		Name:      req.Name,
		Link:      req.Link,
		Reference: req.Reference,
	}
	if err := h.storage.CreateProduct(c.Request.Context(), product); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// GetProduct returns one product with its latest price.
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.storage.ProductByID(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.productView(c, *product))
}

type updateProductRequest struct {
	Name      *string `json:"name"`
	Link      *string `json:"link"`
	Reference *int64  `json:"reference"`
}

// UpdateProduct updates the mutable fields of a product.
func (h *Handler) UpdateProduct(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a JSON"})
		return
	}
	product, err := h.storage.UpdateProduct(c.Request.Context(), c.Param("product_id"), domain.ProductUpdate{
		Name:      req.Name,
		Link:      req.Link,
		Reference: req.Reference,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct deletes a product and, by cascade, its prices and relation
// edges.
func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.storage.DeleteProduct(c.Request.Context(), c.Param("product_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type mergeProductRequest struct {
	DuplicateID string `json:"duplicate_id" binding:"required"`
}

// MergeProduct folds a duplicate product into this one: prices and relation
// edges move over, the duplicate is deleted.
func (h *Handler) MergeProduct(c *gin.Context) {
	var req mergeProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing duplicate_id"})
		return
	}
	if err := h.storage.MergeProducts(c.Request.Context(), c.Param("product_id"), req.DuplicateID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// SearchProducts ranks products against the q query parameter, optionally
// narrowed to one store.
func (h *Handler) SearchProducts(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	matches, err := h.storage.SearchProducts(c.Request.Context(), query, c.Query("store_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if matches == nil {
		matches = []domain.ProductMatch{}
	}
	c.JSON(http.StatusOK, matches)
}

// SimilarProducts returns likely-equivalent products in other stores,
// grouped by store name.
func (h *Handler) SimilarProducts(c *gin.Context) {
	similar, err := h.resolver.SimilarInOtherStores(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, similar)
}

// Relations returns relation edges involving the product on either side.
func (h *Handler) Relations(c *gin.Context) {
	relations, err := h.storage.RelationsForProduct(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if relations == nil {
		relations = []domain.ProductRelation{}
	}
	c.JSON(http.StatusOK, relations)
}

// Prices

// ListProductPrices returns a product's full price history, newest first.
func (h *Handler) ListProductPrices(c *gin.Context) {
	if _, err := h.storage.ProductByID(c.Request.Context(), c.Param("product_id")); err != nil {
		h.fail(c, err)
		return
	}
	prices, err := h.storage.PricesByProduct(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if prices == nil {
		prices = []domain.Price{}
	}
	c.JSON(http.StatusOK, prices)
}

type createPriceRequest struct {
	Amount     *float64   `json:"amount" binding:"required"`
	IsDiscount bool       `json:"is_discount"`
	FetchedAt  *time.Time `json:"fetched_at"`
}

// CreatePrice records one price observation for a product. The same dedup
// rule as ingestion applies: an unchanged amount observed later only bumps
// the stored timestamp.
func (h *Handler) CreatePrice(c *gin.Context) {
	product, err := h.storage.ProductByID(c.Request.Context(), c.Param("product_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req createPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing amount"})
		return
	}
	price, created, err := h.reconciler.RecordPrice(c.Request.Context(), product, *req.Amount, req.IsDiscount, req.FetchedAt)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, price)
}

// GetPrice returns one price row by id.
func (h *Handler) GetPrice(c *gin.Context) {
	price, err := h.storage.PriceByID(c.Request.Context(), c.Param("price_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

// DeletePrice deletes one price row.
func (h *Handler) DeletePrice(c *gin.Context) {
	if err := h.storage.DeletePrice(c.Request.Context(), c.Param("price_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// CleanReferences merges products within a store that ended up sharing one
// reference. Duplicates come from legacy name-based matching; the oldest
// product wins and inherits the others' price history and relations.
func (h *Handler) CleanReferences(c *gin.Context) {
	ctx := c.Request.Context()
	stores, err := h.storage.Stores(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	merged := 0
	for _, store := range stores {
		products, err := h.storage.ProductsByStore(ctx, store.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		byReference := make(map[int64][]domain.Product)
		for _, product := range products {
			byReference[product.Reference] = append(byReference[product.Reference], product)
		}
		for _, group := range byReference {
			if len(group) < 2 {
				continue
			}
			sort.Slice(group, func(i, j int) bool {
				if group[i].CreatedAt.Equal(group[j].CreatedAt) {
					return group[i].ID < group[j].ID
				}
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			})
			keep := group[0]
			for _, duplicate := range group[1:] {
				if err := h.storage.MergeProducts(ctx, keep.ID, duplicate.ID); err != nil {
					h.fail(c, err)
					return
				}
				merged++
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"merged": merged})
}

// DiscountedProducts lists products with a discounted price observed today,
// including the deal price and the product's rolling average for context.
func (h *Handler) DiscountedProducts(c *gin.Context) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
	to := from.AddDate(0, 0, 2)

	prices, err := h.storage.DiscountedPricesBetween(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}

	deals := make([]gin.H, 0, len(prices))
	for _, price := range prices {
		product, err := h.storage.ProductByID(c.Request.Context(), price.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			h.fail(c, err)
			return
		}
		history, err := h.storage.PricesByProduct(c.Request.Context(), product.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		deals = append(deals, gin.H{
			"product":     product,
			"deal_price":  price,
			"rolling_avg": domain.RollingAverage(history, 10),
		})
	}
	c.JSON(http.StatusOK, deals)
}

// helpers

// resolveStoreParam resolves the store from either the :store_id param or,
// on /stores_name routes, the :store_name param.
func (h *Handler) resolveStoreParam(c *gin.Context) (*domain.Store, error) {
	if name := c.Param("store_name"); name != "" {
		return h.storage.StoreByName(c.Request.Context(), name)
	}
	return h.storage.StoreByID(c.Request.Context(), c.Param("store_id"))
}

func (h *Handler) productViews(c *gin.Context, products []domain.Product) []gin.H {
	views := make([]gin.H, 0, len(products))
	for _, product := range products {
		views = append(views, h.productView(c, product))
	}
	return views
}

func (h *Handler) productView(c *gin.Context, product domain.Product) gin.H {
	view := gin.H{
		"id":         product.ID,
		"store_id":   product.StoreID,
		"name":       product.Name,
		"link":       product.Link,
		"reference":  product.Reference,
		"created_at": product.CreatedAt,
		"updated_at": product.UpdatedAt,
	}
	prices, err := h.storage.PricesByProduct(c.Request.Context(), product.ID)
	if err != nil {
		prices = nil
	}
	view["price_count"] = len(prices)
	if latest := domain.LatestOf(prices); latest != nil {
		view["latest_price"] = latest
	} else {
		view["latest_price"] = nil
	}
	return view
}

// fail maps storage errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.logger.Error("storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func newID() string {
	return uuid.NewString()
}

func paginate(products []domain.Product, rawPage string) []domain.Product {
	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(products) {
		return nil
	}
	end := start + pageSize
	if end > len(products) {
		end = len(products)
	}
	return products[start:end]
}
