package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/retail-inventory/internal/auth"
	"github.com/safar/retail-inventory/internal/cache"
	"github.com/safar/retail-inventory/internal/config"
	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/models"
	"github.com/safar/retail-inventory/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type server struct {
	cfg            *config.Config
	log            *zap.Logger
	cache          *cache.Cache
	tokens         *auth.TokenService
	admins         *store.Admins
	catalog        *store.Catalog
	customerOrders *store.CustomerOrders
	purchaseOrders *store.PurchaseOrders
	lowStock       *store.LowStockMonitor
}

func (s *server) registerRoutes(router *gin.Engine) {
	router.POST("/admins", s.registerAdmin)
	router.POST("/admins/login", s.login)

	authed := router.Group("/", requireAuth(s.tokens))

	authed.POST("/shops", s.createShop)
	authed.GET("/shops", s.listShops)
	authed.GET("/shops/:id", s.getShop)
	authed.PUT("/shops/:id", s.updateShop)
	authed.DELETE("/shops/:id", s.deleteShop)
	authed.GET("/shops/:id/inventory", s.listShopInventory)
	authed.PUT("/shops/:id/inventory/:productId", s.upsertInventory)

	authed.POST("/products", s.createProduct)
	authed.GET("/products", s.listProducts)
	authed.GET("/products/:id", s.getProduct)
	authed.PUT("/products/:id", s.updateProduct)
	authed.DELETE("/products/:id", s.deleteProduct)

	authed.POST("/suppliers", s.createSupplier)
	authed.GET("/suppliers", s.listSuppliers)
	authed.GET("/suppliers/:id", s.getSupplier)
	authed.PUT("/suppliers/:id", s.updateSupplier)
	authed.DELETE("/suppliers/:id", s.deleteSupplier)

	authed.GET("/inventory/low-stock", s.lowStockReport)

	authed.POST("/orders", s.createCustomerOrder)
	authed.GET("/orders", s.listCustomerOrders)
	authed.GET("/orders/:id", s.getCustomerOrder)
	authed.PUT("/orders/:id", s.updateCustomerOrder)
	authed.DELETE("/orders/:id", s.deleteCustomerOrder)

	authed.POST("/purchase-orders", s.createPurchaseOrder)
	authed.GET("/purchase-orders", s.listPurchaseOrders)
	authed.GET("/purchase-orders/:id", s.getPurchaseOrder)
	authed.PUT("/purchase-orders/:id", s.updatePurchaseOrder)
	authed.DELETE("/purchase-orders/:id", s.deletePurchaseOrder)
	authed.PATCH("/purchase-orders/:id/arrive", s.markPurchaseOrderArrived)
}

// statusFromError maps engine failures to response codes. Anything
// unclassified is a 500; retryable transaction failures surface as 503 so
// callers know a retry is safe.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, database.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, database.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, database.ErrAlreadyArrived),
		errors.Is(err, database.ErrEmptyItems),
		errors.Is(err, database.ErrDuplicateProduct),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrDuplicateUsername):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrAdminNotFound),
		errors.Is(err, database.ErrShopNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrSupplierNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrStockNotFound):
		return http.StatusNotFound
	case database.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) respondError(c *gin.Context, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func cursorParams(c *gin.Context) (string, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return c.Query("cursor"), limit
}

// cachedGet reads an entity through the cache; on a miss the loader hits the
// database and the result is stored best-effort.
func cachedGet[T any](s *server, c *gin.Context, key string, load func(ctx context.Context) (*T, error)) {
	ctx := c.Request.Context()

	if s.cache != nil {
		var cached T
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	value, err := load(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, value); err != nil {
			s.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, value)
}

// --- Admins ---

type adminCredentials struct {
	Username string `json:"username" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=8"`
}

func (s *server) registerAdmin(c *gin.Context) {
	var req adminCredentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	admin, err := s.admins.Create(c.Request.Context(), req.Username, hash)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, admin)
}

func (s *server) login(c *gin.Context) {
	var req adminCredentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin, err := s.admins.GetByUsername(c.Request.Context(), req.Username)
	if err != nil || !auth.CheckPassword(admin.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.tokens.Generate(admin.ID, admin.Username)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "admin_id": admin.ID})
}

// --- Shops ---

type shopRequest struct {
	Name    string  `json:"name" binding:"required"`
	Address *string `json:"address"`
}

func (s *server) createShop(c *gin.Context) {
	var req shopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shop, err := s.catalog.CreateShop(c.Request.Context(), req.Name, req.Address)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shop)
}

func (s *server) getShop(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cachedGet(s, c, cache.Key("shop", id), func(ctx context.Context) (*models.Shop, error) {
		return s.catalog.GetShop(ctx, id)
	})
}

func (s *server) updateShop(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req shopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shop, err := s.catalog.UpdateShop(c.Request.Context(), id, req.Name, req.Address)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shop)
}

func (s *server) deleteShop(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteShop(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listShops(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := s.catalog.ListShops(c.Request.Context(), page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- Products ---

type productRequest struct {
	Name         string          `json:"name" binding:"required"`
	Category     string          `json:"category"`
	UnitPrice    decimal.Decimal `json:"unit_price" binding:"required"`
	ReorderLevel int             `json:"reorder_level" binding:"gte=0"`
}

func (s *server) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UnitPrice.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_price must not be negative"})
		return
	}

	product, err := s.catalog.CreateProduct(c.Request.Context(), req.Name, req.Category, req.UnitPrice, req.ReorderLevel)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *server) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cachedGet(s, c, cache.Key("product", id), func(ctx context.Context) (*models.Product, error) {
		return s.catalog.GetProduct(ctx, id)
	})
}

func (s *server) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UnitPrice.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_price must not be negative"})
		return
	}

	product, err := s.catalog.UpdateProduct(c.Request.Context(), id, req.Name, req.Category, req.UnitPrice, req.ReorderLevel)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *server) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listProducts(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := s.catalog.ListProducts(c.Request.Context(), page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- Suppliers ---

type supplierRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *server) createSupplier(c *gin.Context) {
	var req supplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	supplier, err := s.catalog.CreateSupplier(c.Request.Context(), req.Name, req.Email, req.Phone, req.Address)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, supplier)
}

func (s *server) getSupplier(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cachedGet(s, c, cache.Key("supplier", id), func(ctx context.Context) (*models.Supplier, error) {
		return s.catalog.GetSupplier(ctx, id)
	})
}

func (s *server) updateSupplier(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req supplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	supplier, err := s.catalog.UpdateSupplier(c.Request.Context(), id, req.Name, req.Email, req.Phone, req.Address)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, supplier)
}

func (s *server) deleteSupplier(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteSupplier(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listSuppliers(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := s.catalog.ListSuppliers(c.Request.Context(), page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- Inventory ---

type inventoryRequest struct {
	Quantity int `json:"quantity" binding:"gte=0"`
}

func (s *server) upsertInventory(c *gin.Context) {
	shopID, ok := pathID(c, "id")
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req inventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inv, err := s.catalog.UpsertInventory(c.Request.Context(), productID, shopID, req.Quantity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *server) listShopInventory(c *gin.Context) {
	shopID, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.catalog.ListShopInventory(c.Request.Context(), shopID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shop_id": shopID, "inventory": result})
}

func (s *server) lowStockReport(c *gin.Context) {
	entries, err := s.lowStock.Report(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"low_stock": entries})
}
