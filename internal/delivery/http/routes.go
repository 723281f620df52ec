package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pricepulse/backend/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger *zap.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	if cfg.RateLimit.PerIP > 0 {
		router.Use(RateLimitMiddleware(cfg.RateLimit.PerIP))
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", handler.Status)
		v1.GET("/stats", handler.Stats)
		v1.POST("/scrape", handler.SubmitScrape)

		stores := v1.Group("/stores")
		{
			stores.GET("", handler.ListStores)
			stores.POST("", handler.CreateStore)
			stores.GET("/:store_id", handler.GetStore)
			stores.DELETE("/:store_id", handler.DeleteStore)
			stores.GET("/:store_id/products", handler.ListStoreProducts)
			stores.POST("/:store_id/products", handler.CreateProduct)
		}

		// Store addressing by name, for scrapers that only know the label
		v1.GET("/stores_name/:store_name/products", handler.ListStoreProducts)

		v1.GET("/search", handler.SearchProducts)
		v1.GET("/discounts", handler.DiscountedProducts)

		products := v1.Group("/products")
		{
			products.GET("", handler.ListProducts)
			products.GET("/:product_id", handler.GetProduct)
			products.PUT("/:product_id", handler.UpdateProduct)
			products.DELETE("/:product_id", handler.DeleteProduct)
			products.POST("/:product_id/merge", handler.MergeProduct)
			products.GET("/:product_id/similar", handler.SimilarProducts)
			products.GET("/:product_id/relations", handler.Relations)
			products.GET("/:product_id/prices", handler.ListProductPrices)
			products.POST("/:product_id/prices", handler.CreatePrice)
		}

		v1.POST("/admin/clean-references", handler.CleanReferences)

		prices := v1.Group("/prices")
		{
			prices.GET("/:price_id", handler.GetPrice)
			prices.DELETE("/:price_id", handler.DeletePrice)
		}
	}

	return router
}
