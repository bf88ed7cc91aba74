package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/models"
)

type Admins struct {
	db *sql.DB
}

func NewAdmins(db *sql.DB) *Admins {
	return &Admins{db: db}
}

func (a *Admins) Create(ctx context.Context, username, passwordHash string) (*models.Admin, error) {
	admin := &models.Admin{}

	err := a.db.QueryRowContext(ctx,
		`INSERT INTO admins (username, password_hash, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, username, password_hash, created_at, updated_at`,
		username, passwordHash).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}

	return admin, nil
}

func (a *Admins) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	admin := &models.Admin{}

	err := a.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at
		 FROM admins
		 WHERE username = $1`, username).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrAdminNotFound
		}
		return nil, fmt.Errorf("get admin by username: %w", err)
	}

	return admin, nil
}

func (a *Admins) GetByID(ctx context.Context, id int64) (*models.Admin, error) {
	admin := &models.Admin{}

	err := a.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at
		 FROM admins
		 WHERE id = $1`, id).Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrAdminNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}

	return admin, nil
}
