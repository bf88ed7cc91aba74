package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

var (
	ErrAdminNotFound     = errors.New("admin not found")
	ErrShopNotFound      = errors.New("shop not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrSupplierNotFound  = errors.New("supplier not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrStockNotFound     = errors.New("no stock record for product at shop")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotOrderOwner     = errors.New("order belongs to a different admin")
	ErrAlreadyArrived    = errors.New("purchase order already marked arrived")
	ErrEmptyItems        = errors.New("order must contain at least one item")
	ErrDuplicateProduct  = errors.New("duplicate product in order items")
	ErrInvalidQuantity   = errors.New("item quantity out of range")
	ErrDuplicateUsername = errors.New("username already taken")
)

// StockError reports which inventory row could not cover a reservation.
type StockError struct {
	ProductID int64
	ShopID    int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d at shop %d: requested %d, available %d",
		e.ProductID, e.ShopID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// NoStockRecordError reports a (product, shop) pair with no inventory row.
// Stock is never created implicitly, so this is a not-found condition.
type NoStockRecordError struct {
	ProductID int64
	ShopID    int64
}

func (e *NoStockRecordError) Error() string {
	return fmt.Sprintf("no stock record for product %d at shop %d", e.ProductID, e.ShopID)
}

func (e *NoStockRecordError) Unwrap() error { return ErrStockNotFound }
