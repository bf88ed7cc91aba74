package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/safar/retail-inventory/internal/database"
)

// StockLine is one (product, quantity) pair of a ledger operation.
type StockLine struct {
	ProductID int64
	Quantity  int
}

// LowStockRow is an inventory row at or below its product's reorder level.
type LowStockRow struct {
	ProductID    int64 `json:"product_id"`
	ShopID       int64 `json:"shop_id"`
	Quantity     int   `json:"quantity"`
	ReorderLevel int   `json:"reorder_level"`
}

// sortedLines returns a copy ordered by product id so that concurrent
// transactions acquire row locks in the same order and cannot deadlock on
// overlapping item sets.
func sortedLines(lines []StockLine) []StockLine {
	out := make([]StockLine, len(lines))
	copy(out, lines)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CheckAndReserve locks every requested inventory row at the shop and
// verifies it can cover the requested quantity. All-or-nothing: the first
// failing line fails the whole call and the caller's transaction must roll
// back. Locks are held until the transaction ends, so a following Decrement
// in the same transaction cannot observe a stale quantity.
func CheckAndReserve(ctx context.Context, tx *sql.Tx, shopID int64, lines []StockLine) error {
	var shopExists bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM shops WHERE id = $1)", shopID).Scan(&shopExists)
	if err != nil {
		return fmt.Errorf("check shop exists: %w", err)
	}
	if !shopExists {
		return database.ErrShopNotFound
	}

	for _, line := range sortedLines(lines) {
		var quantity int
		err := tx.QueryRowContext(ctx,
			`SELECT quantity
			 FROM inventory
			 WHERE product_id = $1 AND shop_id = $2
			 FOR UPDATE`,
			line.ProductID, shopID).Scan(&quantity)
		if err != nil {
			if err == sql.ErrNoRows {
				return &database.NoStockRecordError{ProductID: line.ProductID, ShopID: shopID}
			}
			return fmt.Errorf("lock inventory (product %d, shop %d): %w", line.ProductID, shopID, err)
		}

		if quantity < line.Quantity {
			return &database.StockError{
				ProductID: line.ProductID,
				ShopID:    shopID,
				Requested: line.Quantity,
				Available: quantity,
			}
		}
	}

	return nil
}

// Decrement reduces the locked inventory rows. The conditional quantity
// guard backs up CheckAndReserve: if it ever fires the transaction aborts
// instead of driving a quantity negative.
func Decrement(ctx context.Context, tx *sql.Tx, shopID int64, lines []StockLine) error {
	for _, line := range sortedLines(lines) {
		result, err := tx.ExecContext(ctx,
			`UPDATE inventory
			 SET quantity = quantity - $1,
			     updated_at = NOW()
			 WHERE product_id = $2
			   AND shop_id = $3
			   AND quantity >= $1`,
			line.Quantity, line.ProductID, shopID)
		if err != nil {
			return fmt.Errorf("decrement inventory (product %d, shop %d): %w", line.ProductID, shopID, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return &database.StockError{ProductID: line.ProductID, ShopID: shopID, Requested: line.Quantity}
		}
	}

	return nil
}

// Increment raises inventory rows: order cancellation, purchase-order
// arrival, or an order edit releasing a previous reservation. The rows must
// already exist; stock records are never created implicitly.
func Increment(ctx context.Context, tx *sql.Tx, shopID int64, lines []StockLine) error {
	for _, line := range sortedLines(lines) {
		result, err := tx.ExecContext(ctx,
			`UPDATE inventory
			 SET quantity = quantity + $1,
			     updated_at = NOW()
			 WHERE product_id = $2
			   AND shop_id = $3`,
			line.Quantity, line.ProductID, shopID)
		if err != nil {
			return fmt.Errorf("increment inventory (product %d, shop %d): %w", line.ProductID, shopID, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return &database.NoStockRecordError{ProductID: line.ProductID, ShopID: shopID}
		}
	}

	return nil
}

// Transfer moves a reservation between shops: release at the source, then
// check-and-reserve at the destination. Both legs share the caller's
// transaction, so a destination shortfall rolls the source release back too.
func Transfer(ctx context.Context, tx *sql.Tx, fromShopID, toShopID int64, lines []StockLine) error {
	if err := Increment(ctx, tx, fromShopID, lines); err != nil {
		return err
	}
	if err := CheckAndReserve(ctx, tx, toShopID, lines); err != nil {
		return err
	}
	return Decrement(ctx, tx, toShopID, lines)
}

// LowStock returns every inventory row whose quantity has fallen to or below
// the owning product's reorder level. Recomputed fresh on each call.
func LowStock(ctx context.Context, db *sql.DB) ([]LowStockRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT i.product_id, i.shop_id, i.quantity, p.reorder_level
		 FROM inventory i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.quantity <= p.reorder_level
		 ORDER BY i.shop_id, i.product_id`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var result []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.ProductID, &row.ShopID, &row.Quantity, &row.ReorderLevel); err != nil {
			return nil, fmt.Errorf("scan low stock row: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}
