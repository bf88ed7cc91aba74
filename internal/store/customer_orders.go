package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/safar/retail-inventory/internal/store")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CustomerOrders is the sales-order engine. Stock leaves the ledger when an
// order is created and returns when it is deleted; edits release the old
// reservation before validating the new one. Totals are always derived from
// the catalog unit price, never from caller-supplied prices.
type CustomerOrders struct {
	db *sql.DB
}

func NewCustomerOrders(db *sql.DB) *CustomerOrders {
	return &CustomerOrders{db: db}
}

type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CreateCustomerOrderRequest struct {
	AdminID   int64              `json:"admin_id"`
	ShopID    int64              `json:"shop_id"`
	OrderDate time.Time          `json:"order_date"`
	Items     []OrderItemRequest `json:"items"`
}

type UpdateCustomerOrderRequest struct {
	ShopID    int64              `json:"shop_id"`
	OrderDate time.Time          `json:"order_date"`
	Items     []OrderItemRequest `json:"items"`
}

func itemLines(items []OrderItemRequest) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// catalogPrices loads the current unit price for every product, locking
// nothing. A missing product fails the lookup.
func catalogPrices(ctx context.Context, q querier, items []OrderItemRequest) (map[int64]decimal.Decimal, error) {
	prices := make(map[int64]decimal.Decimal, len(items))
	for _, item := range items {
		var price decimal.Decimal
		err := q.QueryRowContext(ctx,
			"SELECT unit_price FROM products WHERE id = $1", item.ProductID).Scan(&price)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("product %d: %w", item.ProductID, database.ErrProductNotFound)
			}
			return nil, fmt.Errorf("get product %d price: %w", item.ProductID, err)
		}
		prices[item.ProductID] = price
	}
	return prices, nil
}

func shopExists(ctx context.Context, q querier, shopID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM shops WHERE id = $1)", shopID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check shop exists: %w", err)
	}
	if !exists {
		return database.ErrShopNotFound
	}
	return nil
}

// Create persists the order with catalog-priced item snapshots and reserves
// stock, all in one transaction. The returned low-stock rows are advisory:
// (product, shop) pairs of this order that the create pushed to or below
// their reorder level.
func (s *CustomerOrders) Create(ctx context.Context, callerAdminID int64, req CreateCustomerOrderRequest) (*models.CustomerOrder, []LowStockRow, error) {
	ctx, span := tracer.Start(ctx, "CustomerOrders.Create",
		trace.WithAttributes(attribute.Int64("shop.id", req.ShopID)))
	defer span.End()

	if callerAdminID != req.AdminID {
		return nil, nil, database.ErrNotOrderOwner
	}

	lines := itemLines(req.Items)
	if err := validateLines(lines); err != nil {
		return nil, nil, err
	}

	orderDate := req.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	var order *models.CustomerOrder

	err := database.WithRetry(ctx, s.db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		if err := shopExists(ctx, tx, req.ShopID); err != nil {
			return err
		}

		prices, err := catalogPrices(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		if err := CheckAndReserve(ctx, tx, req.ShopID, lines); err != nil {
			return err
		}

		var totalAmount decimal.Decimal
		for _, item := range req.Items {
			totalAmount = totalAmount.Add(prices[item.ProductID].Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO customer_orders (admin_id, shop_id, order_date, total_amount, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 RETURNING id`,
			req.AdminID, req.ShopID, orderDate, totalAmount).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create customer order: %w", err)
		}

		for _, item := range req.Items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO customer_order_items (order_id, product_id, quantity, unit_price, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				orderID, item.ProductID, item.Quantity, prices[item.ProductID])
			if err != nil {
				return fmt.Errorf("create customer order item: %w", err)
			}
		}

		if err := Decrement(ctx, tx, req.ShopID, lines); err != nil {
			return err
		}

		order, err = fetchCustomerOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	atRisk, err := s.lowStockForOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}

	return order, atRisk, nil
}

// lowStockForOrder filters the current low-stock rows down to this order's
// (product, shop) pairs. Advisory only, computed after commit.
func (s *CustomerOrders) lowStockForOrder(ctx context.Context, order *models.CustomerOrder) ([]LowStockRow, error) {
	all, err := LowStock(ctx, s.db)
	if err != nil {
		return nil, err
	}

	inOrder := make(map[int64]struct{}, len(order.Items))
	for _, item := range order.Items {
		inOrder[item.ProductID] = struct{}{}
	}

	var atRisk []LowStockRow
	for _, row := range all {
		if row.ShopID != order.ShopID {
			continue
		}
		if _, ok := inOrder[row.ProductID]; ok {
			atRisk = append(atRisk, row)
		}
	}
	return atRisk, nil
}

// Update replaces the item set wholesale: the old reservation is fully
// released before the new one is validated and applied, so raising a
// quantity past available stock fails even though the order already held
// part of it. A shop change transfers the reservation between shops. Old
// item rows are deleted and new ones inserted; item ids are not stable
// across updates.
func (s *CustomerOrders) Update(ctx context.Context, callerAdminID, orderID int64, req UpdateCustomerOrderRequest) (*models.CustomerOrder, error) {
	ctx, span := tracer.Start(ctx, "CustomerOrders.Update",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	newLines := itemLines(req.Items)
	if err := validateLines(newLines); err != nil {
		return nil, err
	}

	var order *models.CustomerOrder

	err := database.WithRetry(ctx, s.db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var ownerID, oldShopID int64
		err := tx.QueryRowContext(ctx,
			"SELECT admin_id, shop_id FROM customer_orders WHERE id = $1 FOR UPDATE",
			orderID).Scan(&ownerID, &oldShopID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock customer order: %w", err)
		}

		if ownerID != callerAdminID {
			return database.ErrNotOrderOwner
		}

		if err := shopExists(ctx, tx, req.ShopID); err != nil {
			return err
		}

		oldLines, err := orderStockLines(ctx, tx, "customer_order_items", orderID)
		if err != nil {
			return err
		}

		prices, err := catalogPrices(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		// Release the old reservation, then validate and apply the new one.
		if err := Increment(ctx, tx, oldShopID, oldLines); err != nil {
			return err
		}
		if err := CheckAndReserve(ctx, tx, req.ShopID, newLines); err != nil {
			return err
		}
		if err := Decrement(ctx, tx, req.ShopID, newLines); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM customer_order_items WHERE order_id = $1", orderID); err != nil {
			return fmt.Errorf("delete customer order items: %w", err)
		}

		var totalAmount decimal.Decimal
		for _, item := range req.Items {
			totalAmount = totalAmount.Add(prices[item.ProductID].Mul(decimal.NewFromInt(int64(item.Quantity))))
			_, err = tx.ExecContext(ctx,
				`INSERT INTO customer_order_items (order_id, product_id, quantity, unit_price, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				orderID, item.ProductID, item.Quantity, prices[item.ProductID])
			if err != nil {
				return fmt.Errorf("create customer order item: %w", err)
			}
		}

		updateDate := req.OrderDate
		if updateDate.IsZero() {
			_, err = tx.ExecContext(ctx,
				`UPDATE customer_orders
				 SET shop_id = $1, total_amount = $2, updated_at = NOW()
				 WHERE id = $3`,
				req.ShopID, totalAmount, orderID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE customer_orders
				 SET shop_id = $1, total_amount = $2, order_date = $3, updated_at = NOW()
				 WHERE id = $4`,
				req.ShopID, totalAmount, updateDate, orderID)
		}
		if err != nil {
			return fmt.Errorf("update customer order: %w", err)
		}

		order, err = fetchCustomerOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// Delete restores the order's reservation to the ledger and removes the
// order; item rows go with it via cascade.
func (s *CustomerOrders) Delete(ctx context.Context, orderID int64) error {
	ctx, span := tracer.Start(ctx, "CustomerOrders.Delete",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	return database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var shopID int64
		err := tx.QueryRowContext(ctx,
			"SELECT shop_id FROM customer_orders WHERE id = $1 FOR UPDATE",
			orderID).Scan(&shopID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock customer order: %w", err)
		}

		lines, err := orderStockLines(ctx, tx, "customer_order_items", orderID)
		if err != nil {
			return err
		}

		if err := Increment(ctx, tx, shopID, lines); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM customer_orders WHERE id = $1", orderID); err != nil {
			return fmt.Errorf("delete customer order: %w", err)
		}

		return nil
	})
}

func (s *CustomerOrders) GetByID(ctx context.Context, orderID int64) (*models.CustomerOrder, error) {
	return fetchCustomerOrder(ctx, s.db, orderID)
}

func (s *CustomerOrders) List(ctx context.Context, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, shop_id, order_date, total_amount, created_at, updated_at
		 FROM customer_orders
		 WHERE (created_at, id) < ($1, $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	defer rows.Close()

	var orders []models.CustomerOrder
	for rows.Next() {
		var order models.CustomerOrder
		err := rows.Scan(
			&order.ID,
			&order.AdminID,
			&order.ShopID,
			&order.OrderDate,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan customer order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return pageFromOrders(orders, limit, func(o models.CustomerOrder) OrderCursor {
		return OrderCursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

// orderStockLines reads an order's (product, quantity) pairs from its item
// table. itemTable is one of the two fixed item table names, never input.
func orderStockLines(ctx context.Context, tx *sql.Tx, itemTable string, orderID int64) ([]StockLine, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT product_id, quantity FROM %s WHERE order_id = $1", itemTable), orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var lines []StockLine
	for rows.Next() {
		var line StockLine
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

func fetchCustomerOrder(ctx context.Context, q querier, orderID int64) (*models.CustomerOrder, error) {
	order := &models.CustomerOrder{}

	err := q.QueryRowContext(ctx,
		`SELECT id, admin_id, shop_id, order_date, total_amount, created_at, updated_at
		 FROM customer_orders
		 WHERE id = $1`,
		orderID).Scan(
		&order.ID,
		&order.AdminID,
		&order.ShopID,
		&order.OrderDate,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get customer order: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, created_at
		 FROM customer_order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get customer order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CustomerOrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan customer order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}
