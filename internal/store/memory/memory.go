package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	products      map[int64]domain.Product
	sales         map[int64]domain.Sale
	users         map[string]domain.UserAccount
	roles         map[string]struct{}
	nextProductID int64
	nextSaleID    int64
	nextItemID    int64
}

func New() *Store {
	return &Store{
		products: make(map[int64]domain.Product),
		sales:    make(map[int64]domain.Sale),
		users:    make(map[string]domain.UserAccount),
		roles:    make(map[string]struct{}),
	}
}

// NewSeeded returns a store with a demo catalog and one SuperAdmin account.
// The admin password comes from SEED_ADMIN_PASSWORD, falling back to a dev
// default with a warning. Only used when no database is configured.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{Name: "Unga wa Ngano 2kg", CostPrice: money("180.00"), SellingPrice: money("215.00"), Stock: 40, Category: "grocery", Description: "Wheat flour"},
		{Name: "Sukari 1kg", CostPrice: money("150.00"), SellingPrice: money("175.00"), Stock: 60, Category: "grocery"},
		{Name: "Maziwa 500ml", CostPrice: money("50.00"), SellingPrice: money("65.00"), Stock: 80, Category: "dairy", Description: "Fresh milk"},
		{Name: "Mkate 400g", CostPrice: money("55.00"), SellingPrice: money("70.00"), Stock: 30, Category: "bakery"},
		{Name: "Chai Majani 250g", CostPrice: money("110.00"), SellingPrice: money("140.00"), Stock: 25, Category: "beverage", Description: "Loose leaf tea"},
		{Name: "Sabuni ya Kufulia", CostPrice: money("85.00"), SellingPrice: money("110.00"), Stock: 45, Category: "household"},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = p
	}

	for _, role := range domain.Roles {
		s.roles[role] = struct{}{}
	}

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		logger.Warn("using default dev credentials for admin@duka.local; set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("failed to hash seed password", zap.Error(err))
	}
	adminID := uuid.NewString()
	s.users[adminID] = domain.UserAccount{
		ID:           adminID,
		Email:        "admin@duka.local",
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    now,
		Roles:        []string{domain.RoleSuperAdmin},
	}

	return s
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpInt64(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.nextProductID++
	product.ID = s.nextProductID
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DecrementStock(_ context.Context, id int64, qty int) error {
	if qty < 1 {
		return &store.InvalidQuantityError{ProductID: id, Quantity: qty}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return &store.ProductNotFoundError{ProductID: id}
	}
	if product.Stock < qty {
		return &store.InsufficientStockError{ProductID: id, Available: product.Stock, Requested: qty}
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stock changes are staged and only applied once every line has passed.
	remaining := make(map[int64]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, &store.InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, &store.ProductNotFoundError{ProductID: item.ProductID}
		}
		available, staged := remaining[item.ProductID]
		if !staged {
			available = product.Stock
		}
		if available < item.Quantity {
			return nil, &store.InsufficientStockError{ProductID: item.ProductID, Available: available, Requested: item.Quantity}
		}
		remaining[item.ProductID] = available - item.Quantity
	}

	now := time.Now().UTC()
	for id, stock := range remaining {
		product := s.products[id]
		product.Stock = stock
		product.UpdatedAt = now
		s.products[id] = product
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	if sale.SaleDate.IsZero() {
		sale.SaleDate = now
	}
	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		s.nextItemID++
		item.ID = s.nextItemID
		item.SaleID = sale.ID
		items[i] = item
	}
	sale.Items = items
	s.sales[sale.ID] = cloneSale(sale)

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := s.withUserEmail(cloneSale(sale))
	return &found, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, s.withUserEmail(cloneSale(sale)))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return cmpInt64(b.ID, a.ID)
		}
		if a.SaleDate.After(b.SaleDate) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) ListSaleLines(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.sales))
	for id, sale := range s.sales {
		if sale.SaleDate.Before(from) || sale.SaleDate.After(to) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	lines := make([]domain.SaleLineRecord, 0, len(ids))
	for _, id := range ids {
		sale := s.sales[id]
		for _, item := range sale.Items {
			product := s.products[item.ProductID]
			lines = append(lines, domain.SaleLineRecord{
				SaleID:           sale.ID,
				SaleItemID:       item.ID,
				SaleDate:         sale.SaleDate,
				ProductID:        item.ProductID,
				ProductName:      product.Name,
				Quantity:         item.Quantity,
				UnitPrice:        item.UnitPrice,
				CurrentCostPrice: product.CostPrice,
			})
		}
	}
	return lines, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || email == "" || user.PasswordHash == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == email {
			return store.ErrConflict
		}
	}
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Roles = slices.Clone(user.Roles)
	s.users[user.ID] = user
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			found := cloneUser(user)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := cloneUser(user)
	return &found, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, cloneUser(user))
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.Email, b.Email)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return users, nil
}

func (s *Store) EnsureRoles(_ context.Context, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, role := range roles {
		if strings.TrimSpace(role) == "" {
			return store.ErrInvalidInput
		}
		s.roles[role] = struct{}{}
	}
	return nil
}

func (s *Store) ListRoles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]string, 0, len(s.roles))
	for role := range s.roles {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles, nil
}

func (s *Store) AddUserRole(_ context.Context, userID string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[role]; !ok {
		return store.ErrInvalidInput
	}
	user, exists := s.users[userID]
	if !exists {
		return store.ErrNotFound
	}
	if slices.Contains(user.Roles, role) {
		return nil
	}
	user.Roles = append(slices.Clone(user.Roles), role)
	s.users[userID] = user
	return nil
}

func (s *Store) RemoveUserRole(_ context.Context, userID string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return store.ErrNotFound
	}
	idx := slices.Index(user.Roles, role)
	if idx < 0 {
		return store.ErrNotFound
	}
	user.Roles = slices.Delete(slices.Clone(user.Roles), idx, idx+1)
	s.users[userID] = user
	return nil
}

// withUserEmail must be called with s.mu held.
func (s *Store) withUserEmail(sale domain.Sale) domain.Sale {
	if sale.UserID == "" {
		return sale
	}
	if user, ok := s.users[sale.UserID]; ok {
		sale.UserEmail = user.Email
	}
	return sale
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneUser(src domain.UserAccount) domain.UserAccount {
	dst := src
	dst.Roles = slices.Clone(src.Roles)
	return dst
}
