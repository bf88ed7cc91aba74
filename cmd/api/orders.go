package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/retail-inventory/internal/store"
	"github.com/shopspring/decimal"
)

// --- Customer orders ---

type customerOrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

type createCustomerOrderRequest struct {
	AdminID   int64                      `json:"admin_id" binding:"required"`
	ShopID    int64                      `json:"shop_id" binding:"required"`
	OrderDate time.Time                  `json:"order_date"`
	Items     []customerOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type updateCustomerOrderRequest struct {
	ShopID    int64                      `json:"shop_id" binding:"required"`
	OrderDate time.Time                  `json:"order_date"`
	Items     []customerOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

func toOrderItems(items []customerOrderItemRequest) []store.OrderItemRequest {
	out := make([]store.OrderItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, store.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

func (s *server) createCustomerOrder(c *gin.Context) {
	var req createCustomerOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, atRisk, err := s.customerOrders.Create(c.Request.Context(), callerAdminID(c), store.CreateCustomerOrderRequest{
		AdminID:   req.AdminID,
		ShopID:    req.ShopID,
		OrderDate: req.OrderDate,
		Items:     toOrderItems(req.Items),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order, "low_stock": atRisk})
}

func (s *server) getCustomerOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := s.customerOrders.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *server) listCustomerOrders(c *gin.Context) {
	cursor, limit := cursorParams(c)
	page, err := s.customerOrders.List(c.Request.Context(), cursor, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *server) updateCustomerOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateCustomerOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.customerOrders.Update(c.Request.Context(), callerAdminID(c), id, store.UpdateCustomerOrderRequest{
		ShopID:    req.ShopID,
		OrderDate: req.OrderDate,
		Items:     toOrderItems(req.Items),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *server) deleteCustomerOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.customerOrders.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Purchase orders ---

type purchaseOrderItemRequest struct {
	ProductID int64           `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type createPurchaseOrderRequest struct {
	AdminID    int64                      `json:"admin_id" binding:"required"`
	ShopID     int64                      `json:"shop_id" binding:"required"`
	SupplierID int64                      `json:"supplier_id" binding:"required"`
	OrderDate  time.Time                  `json:"order_date"`
	Arrived    bool                       `json:"arrived"`
	Items      []purchaseOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type updatePurchaseOrderRequest struct {
	ShopID     int64                      `json:"shop_id" binding:"required"`
	SupplierID int64                      `json:"supplier_id" binding:"required"`
	OrderDate  time.Time                  `json:"order_date"`
	Items      []purchaseOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

func toPurchaseItems(items []purchaseOrderItemRequest) []store.PurchaseItemRequest {
	out := make([]store.PurchaseItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, store.PurchaseItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}

func (s *server) createPurchaseOrder(c *gin.Context) {
	var req createPurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.purchaseOrders.Create(c.Request.Context(), callerAdminID(c), store.CreatePurchaseOrderRequest{
		AdminID:    req.AdminID,
		ShopID:     req.ShopID,
		SupplierID: req.SupplierID,
		OrderDate:  req.OrderDate,
		Arrived:    req.Arrived,
		Items:      toPurchaseItems(req.Items),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *server) getPurchaseOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := s.purchaseOrders.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *server) listPurchaseOrders(c *gin.Context) {
	cursor, limit := cursorParams(c)
	page, err := s.purchaseOrders.List(c.Request.Context(), cursor, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *server) updatePurchaseOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updatePurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.purchaseOrders.Update(c.Request.Context(), callerAdminID(c), id, store.UpdatePurchaseOrderRequest{
		ShopID:     req.ShopID,
		SupplierID: req.SupplierID,
		OrderDate:  req.OrderDate,
		Items:      toPurchaseItems(req.Items),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *server) deletePurchaseOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.purchaseOrders.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) markPurchaseOrderArrived(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := s.purchaseOrders.MarkArrived(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
