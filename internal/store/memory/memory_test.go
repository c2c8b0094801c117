package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

func seedProduct(t *testing.T, s *Store, name string, stock int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:         name,
		CostPrice:    decimal.RequireFromString("10.00"),
		SellingPrice: decimal.RequireFromString("15.00"),
		Stock:        stock,
	})
	require.NoError(t, err)
	return *p
}

func line(productID int64, qty int) domain.SaleItem {
	return domain.SaleItem{ProductID: productID, Quantity: qty, UnitPrice: decimal.RequireFromString("15.00")}
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedProduct(t, s, "Sugar", 5)
	b := seedProduct(t, s, "Salt", 1)

	_, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(a.ID, 2), line(b.ID, 3)}})
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, b.ID, insufficient.ProductID)
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 3, insufficient.Requested)

	got, err := s.GetProduct(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreateSaleDuplicateLinesSeeRemainingStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "Milk", 4)

	_, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(p.ID, 3), line(p.ID, 2)}})
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Available)

	sale, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(p.ID, 3), line(p.ID, 1)}})
	require.NoError(t, err)
	require.Len(t, sale.Items, 2)
	assert.NotEqual(t, sale.Items[0].ID, sale.Items[1].ID)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "Bread", 3)

	_, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(p.ID, 1), line(999, 1)}})
	var notFound *store.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(999), notFound.ProductID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestCreateSaleEmptyCart(t *testing.T) {
	_, err := New().CreateSale(context.Background(), domain.Sale{})
	assert.ErrorIs(t, err, store.ErrEmptyCart)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "Tea", 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(p.ID, 3)}})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, failures)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestDecrementStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "Soap", 2)

	require.NoError(t, s.DecrementStock(ctx, p.ID, 2))
	assert.ErrorIs(t, s.DecrementStock(ctx, p.ID, 1), store.ErrInsufficientStock)
	assert.ErrorIs(t, s.DecrementStock(ctx, 404, 1), store.ErrNotFound)
	assert.ErrorIs(t, s.DecrementStock(ctx, p.ID, 0), store.ErrInvalidInput)
}

func TestListProductsSearchesNameAndDescription(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateProduct(ctx, domain.Product{Name: "Unga", Description: "Maize flour", Stock: 1})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{Name: "Flour Special", Stock: 1})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{Name: "Sugar", Stock: 1})
	require.NoError(t, err)

	found, err := s.ListProducts(ctx, domain.ProductFilter{Search: "FLOUR"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Unga", found[0].Name)
	assert.Equal(t, "Flour Special", found[1].Name)

	all, err := s.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListSaleLinesUsesCurrentCostAndRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := seedProduct(t, s, "Rice", 10)

	sale, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{line(p.ID, 2)}})
	require.NoError(t, err)

	p.CostPrice = decimal.RequireFromString("12.00")
	_, err = s.UpdateProduct(ctx, p)
	require.NoError(t, err)

	lines, err := s.ListSaleLines(ctx, sale.SaleDate.Add(-time.Hour), sale.SaleDate.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Rice", lines[0].ProductName)
	assert.True(t, lines[0].CurrentCostPrice.Equal(decimal.RequireFromString("12.00")))
	assert.True(t, lines[0].UnitPrice.Equal(decimal.RequireFromString("15.00")))

	lines, err = s.ListSaleLines(ctx, sale.SaleDate.Add(time.Hour), sale.SaleDate.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestSalesCarryUserEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnsureRoles(ctx, domain.Roles))
	userID := uuid.NewString()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{ID: userID, Email: "Cashier@Duka.local", PasswordHash: "x", Active: true}))
	p := seedProduct(t, s, "Oil", 3)

	sale, err := s.CreateSale(ctx, domain.Sale{UserID: userID, Items: []domain.SaleItem{line(p.ID, 1)}})
	require.NoError(t, err)

	got, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "cashier@duka.local", got.UserEmail)
}

func TestUserRoles(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.EnsureRoles(ctx, domain.Roles))
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{ID: id, Email: "a@duka.local", PasswordHash: "x"}))
	assert.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{ID: uuid.NewString(), Email: "A@duka.local", PasswordHash: "x"}), store.ErrConflict)

	require.NoError(t, s.AddUserRole(ctx, id, domain.RoleStoreOwner))
	require.NoError(t, s.AddUserRole(ctx, id, domain.RoleStoreOwner))
	assert.ErrorIs(t, s.AddUserRole(ctx, id, "Janitor"), store.ErrInvalidInput)

	user, err := s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.RoleStoreOwner}, user.Roles)

	require.NoError(t, s.RemoveUserRole(ctx, id, domain.RoleStoreOwner))
	assert.ErrorIs(t, s.RemoveUserRole(ctx, id, domain.RoleStoreOwner), store.ErrNotFound)
}

func TestNewSeededHasAdmin(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "seed-pass")
	s := NewSeeded(nil)

	admin, err := s.GetUserByEmail(context.Background(), "admin@duka.local")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.RoleSuperAdmin}, admin.Roles)

	products, err := s.ListProducts(context.Background(), domain.ProductFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, products)
}
