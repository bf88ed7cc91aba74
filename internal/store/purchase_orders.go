package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PurchaseOrders is the supplier-order engine. A purchase order represents
// incoming stock, so its ledger effect is deferred until arrival. Item unit
// prices are negotiated with the supplier and therefore taken from the
// caller, not the catalog.
type PurchaseOrders struct {
	db *sql.DB
}

func NewPurchaseOrders(db *sql.DB) *PurchaseOrders {
	return &PurchaseOrders{db: db}
}

type PurchaseItemRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreatePurchaseOrderRequest struct {
	AdminID    int64                 `json:"admin_id"`
	ShopID     int64                 `json:"shop_id"`
	SupplierID int64                 `json:"supplier_id"`
	OrderDate  time.Time             `json:"order_date"`
	Arrived    bool                  `json:"arrived"`
	Items      []PurchaseItemRequest `json:"items"`
}

type UpdatePurchaseOrderRequest struct {
	ShopID     int64                 `json:"shop_id"`
	SupplierID int64                 `json:"supplier_id"`
	OrderDate  time.Time             `json:"order_date"`
	Items      []PurchaseItemRequest `json:"items"`
}

func purchaseLines(items []PurchaseItemRequest) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func purchaseTotal(items []PurchaseItemRequest) decimal.Decimal {
	var total decimal.Decimal
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func supplierExists(ctx context.Context, q querier, supplierID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM suppliers WHERE id = $1)", supplierID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check supplier exists: %w", err)
	}
	if !exists {
		return database.ErrSupplierNotFound
	}
	return nil
}

func productsExist(ctx context.Context, q querier, items []PurchaseItemRequest) error {
	for _, item := range items {
		var exists bool
		err := q.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", item.ProductID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check product %d exists: %w", item.ProductID, err)
		}
		if !exists {
			return fmt.Errorf("product %d: %w", item.ProductID, database.ErrProductNotFound)
		}
	}
	return nil
}

func validatePurchaseItems(items []PurchaseItemRequest) error {
	if err := validateLines(purchaseLines(items)); err != nil {
		return err
	}
	for _, item := range items {
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("product %d: negative unit price: %w", item.ProductID, database.ErrInvalidQuantity)
		}
	}
	return nil
}

// Create persists the order; stock only moves if the order is created
// already arrived, in which case the increment runs in the same transaction.
func (s *PurchaseOrders) Create(ctx context.Context, callerAdminID int64, req CreatePurchaseOrderRequest) (*models.PurchaseOrder, error) {
	ctx, span := tracer.Start(ctx, "PurchaseOrders.Create",
		trace.WithAttributes(attribute.Int64("shop.id", req.ShopID)))
	defer span.End()

	if callerAdminID != req.AdminID {
		return nil, database.ErrNotOrderOwner
	}

	if err := validatePurchaseItems(req.Items); err != nil {
		return nil, err
	}

	orderDate := req.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	var order *models.PurchaseOrder

	err := database.WithRetry(ctx, s.db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		if err := shopExists(ctx, tx, req.ShopID); err != nil {
			return err
		}
		if err := supplierExists(ctx, tx, req.SupplierID); err != nil {
			return err
		}
		if err := productsExist(ctx, tx, req.Items); err != nil {
			return err
		}

		var orderID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO purchase_orders (admin_id, shop_id, supplier_id, order_date, total_amount, arrived, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 RETURNING id`,
			req.AdminID, req.ShopID, req.SupplierID, orderDate, purchaseTotal(req.Items), req.Arrived).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create purchase order: %w", err)
		}

		for _, item := range req.Items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO purchase_order_items (order_id, product_id, quantity, unit_price, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				orderID, item.ProductID, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("create purchase order item: %w", err)
			}
		}

		if req.Arrived {
			if err := Increment(ctx, tx, req.ShopID, purchaseLines(req.Items)); err != nil {
				return err
			}
		}

		order, err = fetchPurchaseOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// MarkArrived flips the arrived flag false→true exactly once and realizes
// the order's stock into the ledger. A second call fails with
// ErrAlreadyArrived and changes nothing.
func (s *PurchaseOrders) MarkArrived(ctx context.Context, orderID int64) (*models.PurchaseOrder, error) {
	ctx, span := tracer.Start(ctx, "PurchaseOrders.MarkArrived",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var order *models.PurchaseOrder

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var shopID int64
		var arrived bool
		err := tx.QueryRowContext(ctx,
			"SELECT shop_id, arrived FROM purchase_orders WHERE id = $1 FOR UPDATE",
			orderID).Scan(&shopID, &arrived)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock purchase order: %w", err)
		}

		if arrived {
			return database.ErrAlreadyArrived
		}

		lines, err := orderStockLines(ctx, tx, "purchase_order_items", orderID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE purchase_orders SET arrived = TRUE, updated_at = NOW() WHERE id = $1",
			orderID); err != nil {
			return fmt.Errorf("mark purchase order arrived: %w", err)
		}

		if err := Increment(ctx, tx, shopID, lines); err != nil {
			return err
		}

		order, err = fetchPurchaseOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// Update replaces the item set and recomputes the total from the supplied
// prices. The arrived flag itself never changes here; for an order that has
// already arrived, the old increment is reversed and the new one applied in
// the same transaction. Reversal can fail with insufficient stock if the
// received goods were since sold, which aborts the whole update.
func (s *PurchaseOrders) Update(ctx context.Context, callerAdminID, orderID int64, req UpdatePurchaseOrderRequest) (*models.PurchaseOrder, error) {
	ctx, span := tracer.Start(ctx, "PurchaseOrders.Update",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if err := validatePurchaseItems(req.Items); err != nil {
		return nil, err
	}

	var order *models.PurchaseOrder

	err := database.WithRetry(ctx, s.db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var ownerID, oldShopID int64
		var arrived bool
		err := tx.QueryRowContext(ctx,
			"SELECT admin_id, shop_id, arrived FROM purchase_orders WHERE id = $1 FOR UPDATE",
			orderID).Scan(&ownerID, &oldShopID, &arrived)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock purchase order: %w", err)
		}

		if ownerID != callerAdminID {
			return database.ErrNotOrderOwner
		}

		if err := shopExists(ctx, tx, req.ShopID); err != nil {
			return err
		}
		if err := supplierExists(ctx, tx, req.SupplierID); err != nil {
			return err
		}
		if err := productsExist(ctx, tx, req.Items); err != nil {
			return err
		}

		if arrived {
			oldLines, err := orderStockLines(ctx, tx, "purchase_order_items", orderID)
			if err != nil {
				return err
			}
			if err := CheckAndReserve(ctx, tx, oldShopID, oldLines); err != nil {
				return err
			}
			if err := Decrement(ctx, tx, oldShopID, oldLines); err != nil {
				return err
			}
			if err := Increment(ctx, tx, req.ShopID, purchaseLines(req.Items)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM purchase_order_items WHERE order_id = $1", orderID); err != nil {
			return fmt.Errorf("delete purchase order items: %w", err)
		}

		for _, item := range req.Items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO purchase_order_items (order_id, product_id, quantity, unit_price, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				orderID, item.ProductID, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("create purchase order item: %w", err)
			}
		}

		if req.OrderDate.IsZero() {
			_, err = tx.ExecContext(ctx,
				`UPDATE purchase_orders
				 SET shop_id = $1, supplier_id = $2, total_amount = $3, updated_at = NOW()
				 WHERE id = $4`,
				req.ShopID, req.SupplierID, purchaseTotal(req.Items), orderID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE purchase_orders
				 SET shop_id = $1, supplier_id = $2, total_amount = $3, order_date = $4, updated_at = NOW()
				 WHERE id = $5`,
				req.ShopID, req.SupplierID, purchaseTotal(req.Items), req.OrderDate, orderID)
		}
		if err != nil {
			return fmt.Errorf("update purchase order: %w", err)
		}

		order, err = fetchPurchaseOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// Delete reverses an arrived order's ledger contribution before removing it;
// a never-arrived order leaves inventory untouched.
func (s *PurchaseOrders) Delete(ctx context.Context, orderID int64) error {
	ctx, span := tracer.Start(ctx, "PurchaseOrders.Delete",
		trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	return database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var shopID int64
		var arrived bool
		err := tx.QueryRowContext(ctx,
			"SELECT shop_id, arrived FROM purchase_orders WHERE id = $1 FOR UPDATE",
			orderID).Scan(&shopID, &arrived)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock purchase order: %w", err)
		}

		if arrived {
			lines, err := orderStockLines(ctx, tx, "purchase_order_items", orderID)
			if err != nil {
				return err
			}
			if err := CheckAndReserve(ctx, tx, shopID, lines); err != nil {
				return err
			}
			if err := Decrement(ctx, tx, shopID, lines); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM purchase_orders WHERE id = $1", orderID); err != nil {
			return fmt.Errorf("delete purchase order: %w", err)
		}

		return nil
	})
}

func (s *PurchaseOrders) GetByID(ctx context.Context, orderID int64) (*models.PurchaseOrder, error) {
	return fetchPurchaseOrder(ctx, s.db, orderID)
}

func (s *PurchaseOrders) List(ctx context.Context, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, shop_id, supplier_id, order_date, total_amount, arrived, created_at, updated_at
		 FROM purchase_orders
		 WHERE (created_at, id) < ($1, $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []models.PurchaseOrder
	for rows.Next() {
		var order models.PurchaseOrder
		err := rows.Scan(
			&order.ID,
			&order.AdminID,
			&order.ShopID,
			&order.SupplierID,
			&order.OrderDate,
			&order.TotalAmount,
			&order.Arrived,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return pageFromOrders(orders, limit, func(o models.PurchaseOrder) OrderCursor {
		return OrderCursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

func fetchPurchaseOrder(ctx context.Context, q querier, orderID int64) (*models.PurchaseOrder, error) {
	order := &models.PurchaseOrder{}

	err := q.QueryRowContext(ctx,
		`SELECT id, admin_id, shop_id, supplier_id, order_date, total_amount, arrived, created_at, updated_at
		 FROM purchase_orders
		 WHERE id = $1`,
		orderID).Scan(
		&order.ID,
		&order.AdminID,
		&order.ShopID,
		&order.SupplierID,
		&order.OrderDate,
		&order.TotalAmount,
		&order.Arrived,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get purchase order: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, created_at
		 FROM purchase_order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get purchase order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.PurchaseOrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}
