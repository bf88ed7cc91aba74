package store

import (
	"fmt"

	"github.com/safar/retail-inventory/internal/database"
)

// MaxItemQuantity caps a single order line.
const MaxItemQuantity = 1_000_000

// validateLines enforces the item-set invariants the engine owns as final
// authority: non-empty, no duplicate product, quantities in (0, MaxItemQuantity].
func validateLines(lines []StockLine) error {
	if len(lines) == 0 {
		return database.ErrEmptyItems
	}

	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || line.Quantity > MaxItemQuantity {
			return fmt.Errorf("product %d: quantity %d: %w", line.ProductID, line.Quantity, database.ErrInvalidQuantity)
		}
		if _, dup := seen[line.ProductID]; dup {
			return fmt.Errorf("product %d: %w", line.ProductID, database.ErrDuplicateProduct)
		}
		seen[line.ProductID] = struct{}{}
	}

	return nil
}
