package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LowStockEntry is a low-stock row joined with its product name for
// presentation.
type LowStockEntry struct {
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	ShopID       int64  `json:"shop_id"`
	Quantity     int    `json:"quantity"`
	ReorderLevel int    `json:"reorder_level"`
}

// LowStockMonitor composes the ledger's low-stock query with product names.
// Stateless; every call reflects the ledger at that instant.
type LowStockMonitor struct {
	db *sql.DB
}

func NewLowStockMonitor(db *sql.DB) *LowStockMonitor {
	return &LowStockMonitor{db: db}
}

func (m *LowStockMonitor) Report(ctx context.Context) ([]LowStockEntry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT i.product_id, p.name, i.shop_id, i.quantity, p.reorder_level
		 FROM inventory i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.quantity <= p.reorder_level
		 ORDER BY i.shop_id, i.product_id`)
	if err != nil {
		return nil, fmt.Errorf("query low stock report: %w", err)
	}
	defer rows.Close()

	var entries []LowStockEntry
	for rows.Next() {
		var entry LowStockEntry
		err := rows.Scan(&entry.ProductID, &entry.ProductName, &entry.ShopID, &entry.Quantity, &entry.ReorderLevel)
		if err != nil {
			return nil, fmt.Errorf("scan low stock entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
