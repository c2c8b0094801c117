// Package gormstore is a store.Repository backed by gorm. It serves single-till
// installs on sqlite and can also run against postgres through gorm's driver.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

type productRow struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	Name         string          `gorm:"not null"`
	CostPrice    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	SellingPrice decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Stock        int             `gorm:"not null;check:stock >= 0"`
	Category     *string
	Description  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (productRow) TableName() string { return "products" }

type saleRow struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	UserID        *string `gorm:"size:36;index"`
	CustomerName  *string
	CustomerPhone *string
	SaleDate      time.Time     `gorm:"not null;index"`
	Items         []saleItemRow `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE"`
}

func (saleRow) TableName() string { return "sales" }

type saleItemRow struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	SaleID    int64           `gorm:"not null;index"`
	ProductID int64           `gorm:"not null"`
	Product   productRow      `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT"`
	Quantity  int             `gorm:"not null;check:quantity > 0"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(18,2);not null"`
}

func (saleItemRow) TableName() string { return "sale_items" }

type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "app_users" }

type roleRow struct {
	Name string `gorm:"primaryKey"`
}

func (roleRow) TableName() string { return "roles" }

type userRoleRow struct {
	UserID string `gorm:"primaryKey;size:36"`
	Role   string `gorm:"primaryKey"`
}

func (userRoleRow) TableName() string { return "user_roles" }

type Store struct {
	db *gorm.DB
}

// Open connects with the named driver ("sqlite" or "postgres") and migrates
// the schema.
func Open(driver string, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection keeps checkouts serialized.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("gormstore: enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate() error {
	for _, model := range []any{&productRow{}, &userRow{}, &roleRow{}, &userRoleRow{}, &saleRow{}, &saleItemRow{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("gormstore: automigrate %T: %w", model, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := s.db.WithContext(ctx).Order("id")
	if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" {
		like := "%" + term + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(COALESCE(description, '')) LIKE ?", like, like)
	}

	var rows []productRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []productRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.toDomain()
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	row := productFromDomain(product)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	var updated productRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing productRow
		if err := tx.First(&existing, product.ID).Error; err != nil {
			return err
		}
		row := productFromDomain(product)
		row.CreatedAt = existing.CreatedAt
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p := updated.toDomain()
	return &p, nil
}

func (s *Store) DecrementStock(ctx context.Context, id int64, qty int) error {
	if qty < 1 {
		return &store.InvalidQuantityError{ProductID: id, Quantity: qty}
	}
	return decrementStock(s.db.WithContext(ctx), id, qty)
}

func decrementStock(tx *gorm.DB, id int64, qty int) error {
	res := tx.Model(&productRow{}).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumns(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var row productRow
	if err := tx.Select("id", "stock").First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &store.ProductNotFoundError{ProductID: id}
		}
		return err
	}
	return &store.InsufficientStockError{ProductID: id, Available: row.Stock, Requested: qty}
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, &store.InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	row := saleRow{
		UserID:        optional(sale.UserID),
		CustomerName:  optional(sale.CustomerName),
		CustomerPhone: optional(sale.CustomerPhone),
		SaleDate:      sale.SaleDate,
		Items:         make([]saleItemRow, 0, len(sale.Items)),
	}
	for _, item := range sale.Items {
		row.Items = append(row.Items, saleItemRow{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range row.Items {
			if err := decrementStock(tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.Omit("Items").Create(&row).Error; err != nil {
			return err
		}
		for i := range row.Items {
			row.Items[i].SaleID = row.ID
		}
		return tx.Omit("Product").Create(&row.Items).Error
	})
	if err != nil {
		return nil, store.Persistence("create sale", err)
	}

	created := row.toDomain("")
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var row saleRow
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&row, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	emails, err := s.emailsFor(ctx, []saleRow{row})
	if err != nil {
		return nil, err
	}
	sale := row.toDomain(emails[deref(row.UserID)])
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	var rows []saleRow
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("sale_date DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	emails, err := s.emailsFor(ctx, rows)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, row.toDomain(emails[deref(row.UserID)]))
	}
	return sales, nil
}

func (s *Store) emailsFor(ctx context.Context, rows []saleRow) (map[string]string, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UserID != nil && !slices.Contains(ids, *row.UserID) {
			ids = append(ids, *row.UserID)
		}
	}
	emails := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return emails, nil
	}
	var users []userRow
	if err := s.db.WithContext(ctx).Select("id", "email").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		emails[u.ID] = u.Email
	}
	return emails, nil
}

func (s *Store) ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error) {
	var rows []saleRow
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Items.Product").
		Where("sale_date >= ? AND sale_date <= ?", from, to).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	lines := make([]domain.SaleLineRecord, 0, len(rows))
	for _, sale := range rows {
		for _, item := range sale.Items {
			lines = append(lines, domain.SaleLineRecord{
				SaleID:           sale.ID,
				SaleItemID:       item.ID,
				SaleDate:         sale.SaleDate.UTC(),
				ProductID:        item.ProductID,
				ProductName:      item.Product.Name,
				Quantity:         item.Quantity,
				UnitPrice:        item.UnitPrice.Round(domain.MoneyScale),
				CurrentCostPrice: item.Product.CostPrice.Round(domain.MoneyScale),
			})
		}
	}
	return lines, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || email == "" || user.PasswordHash == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := userRow{ID: user.ID, Email: email, PasswordHash: user.PasswordHash, Active: user.Active, CreatedAt: user.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, role := range user.Roles {
			if err := addRole(tx, user.ID, role); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return s.findUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *Store) findUser(ctx context.Context, cond string, arg any) (*domain.UserAccount, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	roles, err := s.rolesByUser(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	user := row.toDomain(roles[row.ID])
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("created_at").Order("email").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	roles, err := s.rolesByUser(ctx, ids)
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain(roles[row.ID]))
	}
	return users, nil
}

func (s *Store) rolesByUser(ctx context.Context, ids []string) (map[string][]string, error) {
	result := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []userRoleRow
	if err := s.db.WithContext(ctx).Where("user_id IN ?", ids).Order("role").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.UserID] = append(result[row.UserID], row.Role)
	}
	return result, nil
}

func (s *Store) EnsureRoles(ctx context.Context, roles []string) error {
	for _, role := range roles {
		if strings.TrimSpace(role) == "" {
			return store.ErrInvalidInput
		}
		row := roleRow{Name: role}
		if err := s.db.WithContext(ctx).Where(row).FirstOrCreate(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]string, error) {
	var roles []string
	if err := s.db.WithContext(ctx).Model(&roleRow{}).Order("name").Pluck("name", &roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) AddUserRole(ctx context.Context, userID string, role string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user userRow
		if err := tx.Select("id").First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		return addRole(tx, userID, role)
	})
}

func addRole(tx *gorm.DB, userID string, role string) error {
	var count int64
	if err := tx.Model(&roleRow{}).Where("name = ?", role).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrInvalidInput
	}
	link := userRoleRow{UserID: userID, Role: role}
	return tx.Where(link).FirstOrCreate(&link).Error
}

func (s *Store) RemoveUserRole(ctx context.Context, userID string, role string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND role = ?", userID, role).Delete(&userRoleRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func productFromDomain(p domain.Product) productRow {
	return productRow{
		ID:           p.ID,
		Name:         p.Name,
		CostPrice:    p.CostPrice,
		SellingPrice: p.SellingPrice,
		Stock:        p.Stock,
		Category:     optional(p.Category),
		Description:  optional(p.Description),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:           r.ID,
		Name:         r.Name,
		CostPrice:    r.CostPrice.Round(domain.MoneyScale),
		SellingPrice: r.SellingPrice.Round(domain.MoneyScale),
		Stock:        r.Stock,
		Category:     deref(r.Category),
		Description:  deref(r.Description),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r saleRow) toDomain(email string) domain.Sale {
	sale := domain.Sale{
		ID:            r.ID,
		UserID:        deref(r.UserID),
		UserEmail:     email,
		CustomerName:  deref(r.CustomerName),
		CustomerPhone: deref(r.CustomerPhone),
		SaleDate:      r.SaleDate.UTC(),
		Items:         make([]domain.SaleItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:        item.ID,
			SaleID:    r.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Round(domain.MoneyScale),
		})
	}
	return sale
}

func (r userRow) toDomain(roles []string) domain.UserAccount {
	if roles == nil {
		roles = []string{}
	}
	return domain.UserAccount{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt.UTC(),
		Roles:        roles,
	}
}

func optional(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

func deref(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
