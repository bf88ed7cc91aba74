package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/retail-inventory/internal/cache"
	"github.com/safar/retail-inventory/internal/models"
	"github.com/safar/retail-inventory/internal/store"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

func newCatalog(db *sql.DB) *store.Catalog {
	return store.NewCatalog(db, cache.Noop{}, zap.NewNop())
}

func createTestAdmin(t *testing.T, db *sql.DB, username string) *models.Admin {
	t.Helper()
	admin, err := store.NewAdmins(db).Create(context.Background(), username, "not-a-real-hash")
	if err != nil {
		t.Fatalf("Create admin: %v", err)
	}
	return admin
}

func createTestShop(t *testing.T, db *sql.DB, name string) *models.Shop {
	t.Helper()
	shop, err := newCatalog(db).CreateShop(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("Create shop: %v", err)
	}
	return shop
}

func createTestSupplier(t *testing.T, db *sql.DB, name string) *models.Supplier {
	t.Helper()
	supplier, err := newCatalog(db).CreateSupplier(context.Background(), name, name+"@example.com", "", "")
	if err != nil {
		t.Fatalf("Create supplier: %v", err)
	}
	return supplier
}

func createTestProduct(t *testing.T, db *sql.DB, name string, price int64, reorderLevel int) *models.Product {
	t.Helper()
	product, err := newCatalog(db).CreateProduct(context.Background(), name, "test", decimal.NewFromInt(price), reorderLevel)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func setStock(t *testing.T, db *sql.DB, productID, shopID int64, quantity int) {
	t.Helper()
	if _, err := newCatalog(db).UpsertInventory(context.Background(), productID, shopID, quantity); err != nil {
		t.Fatalf("Set stock: %v", err)
	}
}

func getStock(t *testing.T, db *sql.DB, productID, shopID int64) int {
	t.Helper()
	inv, err := newCatalog(db).GetInventory(context.Background(), productID, shopID)
	if err != nil {
		t.Fatalf("Get stock: %v", err)
	}
	return inv.Quantity
}
