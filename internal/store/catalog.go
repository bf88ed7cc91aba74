package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/retail-inventory/internal/cache"
	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog manages the simple entities: products, shops, suppliers, and the
// explicit inventory upsert. Every mutation invalidates the entity's cache
// key; the cache is only ever deleted from here, never written.
type Catalog struct {
	db    *sql.DB
	cache cache.Invalidator
	log   *zap.Logger
}

func NewCatalog(db *sql.DB, invalidator cache.Invalidator, log *zap.Logger) *Catalog {
	return &Catalog{db: db, cache: invalidator, log: log}
}

// invalidate is best-effort: the database mutation has already committed, so
// a failed delete only means a stale entry until TTL expiry.
func (c *Catalog) invalidate(ctx context.Context, entity string, id int64) {
	if err := c.cache.Invalidate(ctx, cache.Key(entity, id)); err != nil {
		c.log.Warn("cache invalidation failed",
			zap.String("entity", entity),
			zap.Int64("id", id),
			zap.Error(err))
	}
}

// --- Products ---

func (c *Catalog) CreateProduct(ctx context.Context, name, category string, unitPrice decimal.Decimal, reorderLevel int) (*models.Product, error) {
	product := &models.Product{}

	err := c.db.QueryRowContext(ctx,
		`INSERT INTO products (name, category, unit_price, reorder_level, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, name, category, unit_price, reorder_level, created_at, updated_at`,
		name, category, unitPrice, reorderLevel).Scan(
		&product.ID,
		&product.Name,
		&product.Category,
		&product.UnitPrice,
		&product.ReorderLevel,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product := &models.Product{}

	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, category, unit_price, reorder_level, created_at, updated_at
		 FROM products
		 WHERE id = $1`, id).Scan(
		&product.ID,
		&product.Name,
		&product.Category,
		&product.UnitPrice,
		&product.ReorderLevel,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, name, category string, unitPrice decimal.Decimal, reorderLevel int) (*models.Product, error) {
	product := &models.Product{}

	err := c.db.QueryRowContext(ctx,
		`UPDATE products
		 SET name = $1, category = $2, unit_price = $3, reorder_level = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING id, name, category, unit_price, reorder_level, created_at, updated_at`,
		name, category, unitPrice, reorderLevel, id).Scan(
		&product.ID,
		&product.Name,
		&product.Category,
		&product.UnitPrice,
		&product.ReorderLevel,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	c.invalidate(ctx, "product", id)
	return product, nil
}

// DeleteProduct fails while any order item or inventory row references the
// product; the schema restricts those deletes.
func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("product %d still referenced: %w", id, err)
		}
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	c.invalidate(ctx, "product", id)
	return nil
}

func (c *Catalog) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&total); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, category, unit_price, reorder_level, created_at, updated_at
		 FROM products
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Category,
			&product.UnitPrice,
			&product.ReorderLevel,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return offsetPage(products, total, page, pageSize), nil
}

// --- Shops ---

func (c *Catalog) CreateShop(ctx context.Context, name string, address *string) (*models.Shop, error) {
	shop := &models.Shop{}

	err := c.db.QueryRowContext(ctx,
		`INSERT INTO shops (name, address, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, name, address, created_at, updated_at`,
		name, address).Scan(
		&shop.ID,
		&shop.Name,
		&shop.Address,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create shop: %w", err)
	}

	return shop, nil
}

func (c *Catalog) GetShop(ctx context.Context, id int64) (*models.Shop, error) {
	shop := &models.Shop{}

	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, address, created_at, updated_at FROM shops WHERE id = $1", id).Scan(
		&shop.ID,
		&shop.Name,
		&shop.Address,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrShopNotFound
		}
		return nil, fmt.Errorf("get shop: %w", err)
	}

	return shop, nil
}

func (c *Catalog) UpdateShop(ctx context.Context, id int64, name string, address *string) (*models.Shop, error) {
	shop := &models.Shop{}

	err := c.db.QueryRowContext(ctx,
		`UPDATE shops
		 SET name = $1, address = $2, updated_at = NOW()
		 WHERE id = $3
		 RETURNING id, name, address, created_at, updated_at`,
		name, address, id).Scan(
		&shop.ID,
		&shop.Name,
		&shop.Address,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrShopNotFound
		}
		return nil, fmt.Errorf("update shop: %w", err)
	}

	c.invalidate(ctx, "shop", id)
	return shop, nil
}

func (c *Catalog) DeleteShop(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM shops WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete shop: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrShopNotFound
	}

	c.invalidate(ctx, "shop", id)
	return nil
}

func (c *Catalog) ListShops(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM shops").Scan(&total); err != nil {
		return nil, fmt.Errorf("count shops: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, address, created_at, updated_at
		 FROM shops
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	var shops []models.Shop
	for rows.Next() {
		var shop models.Shop
		if err := rows.Scan(&shop.ID, &shop.Name, &shop.Address, &shop.CreatedAt, &shop.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		shops = append(shops, shop)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return offsetPage(shops, total, page, pageSize), nil
}

// --- Suppliers ---

func (c *Catalog) CreateSupplier(ctx context.Context, name, email, phone, address string) (*models.Supplier, error) {
	supplier := &models.Supplier{}

	err := c.db.QueryRowContext(ctx,
		`INSERT INTO suppliers (name, email, phone, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, name, email, phone, address, created_at, updated_at`,
		name, email, phone, address).Scan(
		&supplier.ID,
		&supplier.Name,
		&supplier.Email,
		&supplier.Phone,
		&supplier.Address,
		&supplier.CreatedAt,
		&supplier.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create supplier: %w", err)
	}

	return supplier, nil
}

func (c *Catalog) GetSupplier(ctx context.Context, id int64) (*models.Supplier, error) {
	supplier := &models.Supplier{}

	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, address, created_at, updated_at
		 FROM suppliers WHERE id = $1`, id).Scan(
		&supplier.ID,
		&supplier.Name,
		&supplier.Email,
		&supplier.Phone,
		&supplier.Address,
		&supplier.CreatedAt,
		&supplier.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("get supplier: %w", err)
	}

	return supplier, nil
}

func (c *Catalog) UpdateSupplier(ctx context.Context, id int64, name, email, phone, address string) (*models.Supplier, error) {
	supplier := &models.Supplier{}

	err := c.db.QueryRowContext(ctx,
		`UPDATE suppliers
		 SET name = $1, email = $2, phone = $3, address = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING id, name, email, phone, address, created_at, updated_at`,
		name, email, phone, address, id).Scan(
		&supplier.ID,
		&supplier.Name,
		&supplier.Email,
		&supplier.Phone,
		&supplier.Address,
		&supplier.CreatedAt,
		&supplier.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("update supplier: %w", err)
	}

	c.invalidate(ctx, "supplier", id)
	return supplier, nil
}

func (c *Catalog) DeleteSupplier(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM suppliers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete supplier: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrSupplierNotFound
	}

	c.invalidate(ctx, "supplier", id)
	return nil
}

func (c *Catalog) ListSuppliers(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM suppliers").Scan(&total); err != nil {
		return nil, fmt.Errorf("count suppliers: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, email, phone, address, created_at, updated_at
		 FROM suppliers
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []models.Supplier
	for rows.Next() {
		var supplier models.Supplier
		err := rows.Scan(
			&supplier.ID,
			&supplier.Name,
			&supplier.Email,
			&supplier.Phone,
			&supplier.Address,
			&supplier.CreatedAt,
			&supplier.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, supplier)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return offsetPage(suppliers, total, page, pageSize), nil
}

// --- Inventory provisioning ---

// UpsertInventory sets the absolute stock quantity for a (product, shop)
// pair. This is the only path that creates inventory rows; order operations
// require the row to exist already.
func (c *Catalog) UpsertInventory(ctx context.Context, productID, shopID int64, quantity int) (*models.Inventory, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("quantity %d: %w", quantity, database.ErrInvalidQuantity)
	}

	if err := shopExists(ctx, c.db, shopID); err != nil {
		return nil, err
	}
	if _, err := c.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	inv := &models.Inventory{}
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO inventory (product_id, shop_id, quantity, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (product_id, shop_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
		 RETURNING product_id, shop_id, quantity, updated_at`,
		productID, shopID, quantity).Scan(
		&inv.ProductID,
		&inv.ShopID,
		&inv.Quantity,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert inventory: %w", err)
	}

	return inv, nil
}

func (c *Catalog) GetInventory(ctx context.Context, productID, shopID int64) (*models.Inventory, error) {
	inv := &models.Inventory{}

	err := c.db.QueryRowContext(ctx,
		`SELECT product_id, shop_id, quantity, updated_at
		 FROM inventory
		 WHERE product_id = $1 AND shop_id = $2`,
		productID, shopID).Scan(
		&inv.ProductID,
		&inv.ShopID,
		&inv.Quantity,
		&inv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &database.NoStockRecordError{ProductID: productID, ShopID: shopID}
		}
		return nil, fmt.Errorf("get inventory: %w", err)
	}

	return inv, nil
}

func (c *Catalog) ListShopInventory(ctx context.Context, shopID int64) ([]models.Inventory, error) {
	if err := shopExists(ctx, c.db, shopID); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT product_id, shop_id, quantity, updated_at
		 FROM inventory
		 WHERE shop_id = $1
		 ORDER BY product_id`,
		shopID)
	if err != nil {
		return nil, fmt.Errorf("list shop inventory: %w", err)
	}
	defer rows.Close()

	var result []models.Inventory
	for rows.Next() {
		var inv models.Inventory
		if err := rows.Scan(&inv.ProductID, &inv.ShopID, &inv.Quantity, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		result = append(result, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}
