package gormstore

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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newProduct(t *testing.T, s *Store, stock int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:         "Sukari",
		CostPrice:    decimal.RequireFromString("10.00"),
		SellingPrice: decimal.RequireFromString("15.00"),
		Stock:        stock,
		Description:  "white sugar",
	})
	require.NoError(t, err)
	return *p
}

func TestCreateSaleCommitsStockAndItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProduct(t, s, 10)

	sale, err := s.CreateSale(ctx, domain.Sale{
		CustomerPhone: "0712000000",
		SaleDate:      time.Now().UTC(),
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 2, UnitPrice: decimal.RequireFromString("15.00")}},
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.NotZero(t, sale.Items[0].ID)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Stock)

	loaded, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "0712000000", loaded.CustomerPhone)
	assert.Empty(t, loaded.CustomerName)
	require.Len(t, loaded.Items, 1)
	assert.True(t, loaded.Items[0].UnitPrice.Equal(decimal.RequireFromString("15.00")))

	lines, err := s.ListSaleLines(ctx, sale.SaleDate.Add(-time.Hour), sale.SaleDate.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Sukari", lines[0].ProductName)
	assert.True(t, lines[0].CurrentCostPrice.Equal(decimal.RequireFromString("10.00")))
}

func TestCreateSaleRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProduct(t, s, 3)

	_, err := s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{
		{ProductID: p.ID, Quantity: 2, UnitPrice: decimal.RequireFromString("15.00")},
		{ProductID: p.ID, Quantity: 2, UnitPrice: decimal.RequireFromString("15.00")},
	}})
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Available)

	_, err = s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{
		{ProductID: 4242, Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")},
	}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProduct(t, s, 5)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateSale(ctx, domain.Sale{Items: []domain.SaleItem{
				{ProductID: p.ID, Quantity: 3, UnitPrice: decimal.RequireFromString("15.00")},
			}})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestSearchAndUpdateProducts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProduct(t, s, 1)

	found, err := s.ListProducts(ctx, domain.ProductFilter{Search: "SUGAR"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	p.SellingPrice = decimal.RequireFromString("18.50")
	updated, err := s.UpdateProduct(ctx, p)
	require.NoError(t, err)
	assert.True(t, updated.SellingPrice.Equal(decimal.RequireFromString("18.50")))
	assert.Equal(t, "white sugar", updated.Description)

	_, err = s.UpdateProduct(ctx, domain.Product{ID: 999, Name: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsersAndRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureRoles(ctx, domain.Roles))
	require.NoError(t, s.EnsureRoles(ctx, domain.Roles))

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	id := uuid.NewString()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{ID: id, Email: "owner@duka.local", PasswordHash: "x", Active: true, Roles: []string{domain.RoleStoreOwner}}))
	assert.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{ID: uuid.NewString(), Email: "owner@duka.local", PasswordHash: "x"}), store.ErrConflict)

	require.NoError(t, s.AddUserRole(ctx, id, domain.RoleSalesPerson))
	assert.ErrorIs(t, s.AddUserRole(ctx, uuid.NewString(), domain.RoleSalesPerson), store.ErrNotFound)

	user, err := s.GetUserByEmail(ctx, "OWNER@duka.local")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.RoleSalesPerson, domain.RoleStoreOwner}, user.Roles)

	require.NoError(t, s.RemoveUserRole(ctx, id, domain.RoleStoreOwner))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{domain.RoleSalesPerson}, users[0].Roles)
}
