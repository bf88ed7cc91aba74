package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreateCustomerOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "orders-admin")
	shop := createTestShop(t, db, "Main Street")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)
	order, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if order.ID == 0 {
		t.Error("Order ID should not be 0")
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected total 100, got %s", order.TotalAmount)
	}
	if len(order.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(order.Items))
	}
	if !order.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected unit price snapshot 50, got %s", order.Items[0].UnitPrice)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 8 {
		t.Errorf("Expected stock 8, got %d", got)
	}
}

func TestCreateCustomerOrderInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "short-admin")
	shop := createTestShop(t, db, "Short Shop")
	product := createTestProduct(t, db, "Scarce", 100, 0)
	setStock(t, db, product.ID, shop.ID, 1)

	engine := store.NewCustomerOrders(db)
	_, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}

	var stockErr *database.StockError
	if !errors.As(err, &stockErr) {
		t.Fatal("Expected a StockError with context")
	}
	if stockErr.ProductID != product.ID || stockErr.Available != 1 {
		t.Errorf("Unexpected stock error detail: %+v", stockErr)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 1 {
		t.Errorf("Stock should remain 1, got %d", got)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM customer_orders").Scan(&count); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if count != 0 {
		t.Errorf("No order should be persisted, found %d", count)
	}
}

func TestCreateCustomerOrderOwnershipMismatch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner := createTestAdmin(t, db, "owner")
	other := createTestAdmin(t, db, "other")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)
	_, _, err := engine.Create(ctx, other.ID, store.CreateCustomerOrderRequest{
		AdminID: owner.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if !errors.Is(err, database.ErrNotOrderOwner) {
		t.Fatalf("Expected ownership error, got: %v", err)
	}
}

func TestCreateCustomerOrderNoStockRecord(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "no-stock-admin")
	shop := createTestShop(t, db, "Empty Shop")
	product := createTestProduct(t, db, "Unstocked", 10, 0)

	engine := store.NewCustomerOrders(db)
	_, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if !errors.Is(err, database.ErrStockNotFound) {
		t.Fatalf("Expected no-stock-record error, got: %v", err)
	}
}

func TestDeleteCustomerOrderRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "delete-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)
	order, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 6 {
		t.Fatalf("Expected stock 6 after create, got %d", got)
	}

	if err := engine.Delete(ctx, order.ID); err != nil {
		t.Fatalf("Delete order: %v", err)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 10 {
		t.Errorf("Expected stock restored to 10, got %d", got)
	}

	if _, err := engine.GetByID(ctx, order.ID); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order gone, got: %v", err)
	}
}

func TestUpdateCustomerOrderQuantity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "update-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)
	order, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 9 {
		t.Fatalf("Expected stock 9, got %d", got)
	}

	// Raising to 10 works because the old reservation is released first.
	updated, err := engine.Update(ctx, admin.ID, order.ID, store.UpdateCustomerOrderRequest{
		ShopID: shop.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("Update order: %v", err)
	}
	if !updated.TotalAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected total 500, got %s", updated.TotalAmount)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}

	// 11 exceeds what a full release could ever cover.
	_, err = engine.Update(ctx, admin.ID, order.ID, store.UpdateCustomerOrderRequest{
		ShopID: shop.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 11}},
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock, got: %v", err)
	}
	if got := getStock(t, db, product.ID, shop.ID); got != 0 {
		t.Errorf("Failed update must not change stock, got %d", got)
	}

	after, err := engine.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if after.Items[0].Quantity != 10 {
		t.Errorf("Order should keep quantity 10, got %d", after.Items[0].Quantity)
	}
}

func TestUpdateCustomerOrderShopTransfer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "transfer-admin")
	shop1 := createTestShop(t, db, "Shop One")
	shop2 := createTestShop(t, db, "Shop Two")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop1.ID, 10)
	setStock(t, db, product.ID, shop2.ID, 20)

	engine := store.NewCustomerOrders(db)
	order, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop1.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	if got := getStock(t, db, product.ID, shop1.ID); got != 5 {
		t.Fatalf("Expected shop1 stock 5, got %d", got)
	}

	if _, err := engine.Update(ctx, admin.ID, order.ID, store.UpdateCustomerOrderRequest{
		ShopID: shop2.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 5}},
	}); err != nil {
		t.Fatalf("Update order: %v", err)
	}

	if got := getStock(t, db, product.ID, shop1.ID); got != 10 {
		t.Errorf("Expected shop1 restored to 10, got %d", got)
	}
	if got := getStock(t, db, product.ID, shop2.ID); got != 15 {
		t.Errorf("Expected shop2 decremented to 15, got %d", got)
	}
}

func TestUpdateCustomerOrderReplacesItemIDs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "ids-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)
	order, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	oldItemID := order.Items[0].ID

	updated, err := engine.Update(ctx, admin.ID, order.ID, store.UpdateCustomerOrderRequest{
		ShopID: shop.ID,
		Items:  []store.OrderItemRequest{{ProductID: product.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Update order: %v", err)
	}

	if updated.Items[0].ID == oldItemID {
		t.Error("Item ids must not survive an update; the item set is replaced")
	}
}

func TestCreateCustomerOrderLowStockAdvisory(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "advisory-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 5)
	setStock(t, db, product.ID, shop.ID, 6)

	engine := store.NewCustomerOrders(db)
	_, atRisk, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
		AdminID: admin.ID,
		ShopID:  shop.ID,
		Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if len(atRisk) != 1 {
		t.Fatalf("Expected 1 at-risk entry, got %d", len(atRisk))
	}
	if atRisk[0].ProductID != product.ID || atRisk[0].ShopID != shop.ID || atRisk[0].Quantity != 4 {
		t.Errorf("Unexpected advisory entry: %+v", atRisk[0])
	}
}

func TestConcurrentCustomerOrderCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "race-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Contended", 100, 0)
	setStock(t, db, product.ID, shop.ID, 10)

	engine := store.NewCustomerOrders(db)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
				AdminID: admin.ID,
				ShopID:  shop.ID,
				Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 6}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successCount := 0
	insufficientCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
			insufficientCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || insufficientCount != 1 {
		t.Errorf("Expected exactly one success and one shortfall, got %d/%d", successCount, insufficientCount)
	}

	if got := getStock(t, db, product.ID, shop.ID); got != 4 {
		t.Errorf("Expected final stock 4, got %d", got)
	}
}

func TestListCustomerOrdersCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	admin := createTestAdmin(t, db, "list-admin")
	shop := createTestShop(t, db, "Shop")
	product := createTestProduct(t, db, "Widget", 50, 0)
	setStock(t, db, product.ID, shop.ID, 100)

	engine := store.NewCustomerOrders(db)
	for i := 0; i < 15; i++ {
		if _, _, err := engine.Create(ctx, admin.ID, store.CreateCustomerOrderRequest{
			AdminID: admin.ID,
			ShopID:  shop.ID,
			Items:   []store.OrderItemRequest{{ProductID: product.ID, Quantity: 1}},
		}); err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}
	}

	page1, err := engine.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if !page1.HasMore || page1.NextCursor == "" {
		t.Error("Page 1 should have more results and a cursor")
	}

	page2, err := engine.List(ctx, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should be the last page")
	}
}
