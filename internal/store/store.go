package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dukapos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrConflict          = errors.New("conflict")
)

// ProductNotFoundError reports a cart line whose product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with id %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrNotFound }

type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: only %d left, %d requested", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %d", e.Quantity, e.ProductID)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidCartDataError reports a malformed cart payload.
type InvalidCartDataError struct {
	Reason string
}

func (e *InvalidCartDataError) Error() string {
	return "invalid cart data: " + e.Reason
}

func (e *InvalidCartDataError) Is(target error) bool { return target == ErrInvalidInput }

// PersistenceError wraps a storage failure that aborted a write. The write
// was rolled back in full.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already carries a
// checkout error the caller must see as-is.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound     *ProductNotFoundError
		insufficient *InsufficientStockError
		persistence  *PersistenceError
	)
	if errors.As(err, &notFound) || errors.As(err, &insufficient) || errors.As(err, &persistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

type ProductStore interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// DecrementStock lowers stock by qty only when at least qty units remain.
	DecrementStock(ctx context.Context, id int64, qty int) error
}

type SaleStore interface {
	// CreateSale decrements stock for every item in order and persists the
	// sale with its items as one atomic unit. Nothing is written on error.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)
	// ListSaleLines returns sale items of sales dated in [from, to], in
	// sale-then-item order, joined with the current product row.
	ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	EnsureRoles(ctx context.Context, roles []string) error
	ListRoles(ctx context.Context) ([]string, error)
	AddUserRole(ctx context.Context, userID string, role string) error
	RemoveUserRole(ctx context.Context, userID string, role string) error
}

type Repository interface {
	ProductStore
	SaleStore
	UserStore
}
