package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreatePurchaseOrderDeferred(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "po-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 3)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 7, UnitPrice: decimal.NewFromInt(30)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}

	if order.Arrived {
		t.Error("Order should not be arrived")
	}
	// Negotiated price, not the catalog's 50.
	if !order.TotalAmount.Equal(decimal.NewFromInt(210)) {
		t.Errorf("Expected total 210, got %s", order.TotalAmount)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 3 {
		t.Errorf("Stock must be untouched before arrival, got %d", got)
	}
}

func TestMarkArrivedOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "arrive-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 3)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 7, UnitPrice: decimal.NewFromInt(30)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}

	arrived, err := engine.MarkArrived(ctx, order.ID)
	if err != nil {
		t.Fatalf("Mark arrived: %v", err)
	}
	if !arrived.Arrived {
		t.Error("Order should be arrived")
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 10 {
		t.Errorf("Expected stock 10 after arrival, got %d", got)
	}

	if _, err := engine.MarkArrived(ctx, order.ID); !errors.Is(err, database.ErrAlreadyArrived) {
		t.Fatalf("Second arrival must fail with invalid state, got: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 10 {
		t.Errorf("Stock must not change on rejected arrival, got %d", got)
	}
}

func TestCreatePurchaseOrderAlreadyArrived(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "instant-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 0)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Arrived:    true,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 5, UnitPrice: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}
	if !order.Arrived {
		t.Error("Order should be arrived")
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 5 {
		t.Errorf("Expected stock 5, got %d", got)
	}
}

func TestUpdateArrivedPurchaseOrderReconcilesLedger(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "reconcile-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 2)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Arrived:    true,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 5, UnitPrice: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 7 {
		t.Fatalf("Expected stock 7, got %d", got)
	}

	updated, err := engine.Update(ctx, admin.ID, order.ID, store.UpdatePurchaseOrderRequest{
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 8, UnitPrice: decimal.NewFromInt(25)},
		},
	})
	if err != nil {
		t.Fatalf("Update purchase order: %v", err)
	}
	if !updated.TotalAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected total 200, got %s", updated.TotalAmount)
	}

	// Old increment (5) reversed, new increment (8) applied: 2 + 8 = 10.
	if got := getStock(t, db, product.ID, shop.ID); got != 10 {
		t.Errorf("Expected stock 10, got %d", got)
	}
}

func TestUpdateNotArrivedPurchaseOrderLeavesLedger(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "pending-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 2)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 5, UnitPrice: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}

	if _, err := engine.Update(ctx, admin.ID, order.ID, store.UpdatePurchaseOrderRequest{
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 9, UnitPrice: decimal.NewFromInt(20)},
		},
	}); err != nil {
		t.Fatalf("Update purchase order: %v", err)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 2 {
		t.Errorf("Pending order update must not touch stock, got %d", got)
	}
}

func TestDeleteArrivedPurchaseOrderReversesStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "po-delete-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 1)

	engine := store.NewPurchaseOrders(db)
	order, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Arrived:    true,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 4, UnitPrice: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 5 {
		t.Fatalf("Expected stock 5, got %d", got)
	}

	if err := engine.Delete(ctx, order.ID); err != nil {
		t.Fatalf("Delete purchase order: %v", err)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 1 {
		t.Errorf("Expected stock back to 1, got %d", got)
	}
	if _, err := engine.GetByID(ctx, order.ID); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order gone, got: %v", err)
	}
}

func TestDeleteArrivedPurchaseOrderFailsWhenStockSold(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "sold-admin")
	shop := createTestShop(t, db, "Shop")
	supplier := createTestSupplier(t, db, "acme")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 0)

	poEngine := store.NewPurchaseOrders(db)
	order, err := poEngine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: supplier.ID,
		Arrived:    true,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 4, UnitPrice: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("Create purchase order: %v", err)
	}

	// Sell 2 of the 4 received units.
	coEngine := store.NewCustomerOrders(db)
	if _, _, err := coEngine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("Create customer order: %v", err)
	}

	err = poEngine.Delete(ctx, order.ID)
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock reversing sold goods, got: %v", err)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 2 {
		t.Errorf("Failed delete must not change stock, got %d", got)
	}
}

func TestCreatePurchaseOrderUnknownSupplier(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "missing-supplier-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)

	engine := store.NewPurchaseOrders(db)
	_, err := engine.Create(ctx, admin.ID, store.CreatePurchaseOrderRequest{
		AdminID:    admin.ID,
		ShopID:     shop.ID,
		SupplierID: 9999,
		Items: []store.PurchaseItemRequest{
			{ProductID: product.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(10)},
		},
	})
	if !errors.Is(err, database.ErrSupplierNotFound) {
		t.Fatalf("Expected supplier not found, got: %v", err)
	}
}
