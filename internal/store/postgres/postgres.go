package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// withTx runs fn in a read committed transaction. Stock races are settled by
// the conditional decrement, which re-checks the row after taking its lock.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const productColumns = `id, name, cost_price::text, selling_price::text, stock,
	COALESCE(category, ''), COALESCE(description, ''), created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p       domain.Product
		cost    string
		selling string
	)
	if err := row.Scan(&p.ID, &p.Name, &cost, &selling, &p.Stock, &p.Category, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	var err error
	if p.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return p, err
	}
	if p.SellingPrice, err = decimal.NewFromString(selling); err != nil {
		return p, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	term := strings.TrimSpace(filter.Search)
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 = ''
			OR name ILIKE '%' || $1 || '%'
			OR description ILIKE '%' || $1 || '%'
		ORDER BY id
	`, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	created, err := scanProduct(s.pool.QueryRow(ctx, `
		INSERT INTO products (name, cost_price, selling_price, stock, category, description, created_at, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, now(), now())
		RETURNING `+productColumns,
		product.Name, product.CostPrice.String(), product.SellingPrice.String(), product.Stock,
		nullIfEmpty(product.Category), nullIfEmpty(product.Description)))
	if err != nil {
		if isCheckViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, cost_price = $3::numeric, selling_price = $4::numeric, stock = $5,
			category = $6, description = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.CostPrice.String(), product.SellingPrice.String(), product.Stock,
		nullIfEmpty(product.Category), nullIfEmpty(product.Description)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isCheckViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DecrementStock(ctx context.Context, id int64, qty int) error {
	if qty < 1 {
		return &store.InvalidQuantityError{ProductID: id, Quantity: qty}
	}
	return decrementStock(ctx, s.pool, id, qty)
}

func decrementStock(ctx context.Context, q querier, id int64, qty int) error {
	tag, err := q.Exec(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND stock >= $1
	`, qty, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = q.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &store.ProductNotFoundError{ProductID: id}
		}
		return err
	}
	return &store.InsufficientStockError{ProductID: id, Available: available, Requested: qty}
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

	items := make([]domain.SaleItem, len(sale.Items))
	copy(items, sale.Items)

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			if err := decrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO sales (user_id, customer_name, customer_phone, sale_date)
			VALUES ($1::uuid, $2, $3, $4)
			RETURNING id
		`, nullIfEmpty(sale.UserID), nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone), sale.SaleDate).Scan(&sale.ID)
		if err != nil {
			return err
		}

		for i := range items {
			items[i].SaleID = sale.ID
			err := tx.QueryRow(ctx, `
				INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4::numeric)
				RETURNING id
			`, sale.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice.String()).Scan(&items[i].ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.Persistence("create sale", err)
	}

	sale.Items = items
	return &sale, nil
}

const saleColumns = `s.id, COALESCE(s.user_id::text, ''), COALESCE(u.email, ''),
	COALESCE(s.customer_name, ''), COALESCE(s.customer_phone, ''), s.sale_date`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var sale domain.Sale
	if err := row.Scan(&sale.ID, &sale.UserID, &sale.UserEmail, &sale.CustomerName, &sale.CustomerPhone, &sale.SaleDate); err != nil {
		return sale, err
	}
	sale.SaleDate = sale.SaleDate.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		LEFT JOIN app_users u ON u.id = s.user_id
		WHERE s.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemsBySale, err := s.loadItems(ctx, []int64{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = itemsBySale[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		LEFT JOIN app_users u ON u.id = s.user_id
		ORDER BY s.sale_date DESC, s.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	itemsBySale, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) loadItems(ctx context.Context, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	result := make(map[int64][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price::text
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  domain.SaleItem
			price string
		)
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &price); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		result[item.SaleID] = append(result[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, si.id, s.sale_date, p.id, p.name, si.quantity,
			si.unit_price::text, p.cost_price::text
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		JOIN products p ON p.id = si.product_id
		WHERE s.sale_date >= $1 AND s.sale_date <= $2
		ORDER BY s.id, si.id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLineRecord, 0, 128)
	for rows.Next() {
		var (
			line  domain.SaleLineRecord
			price string
			cost  string
		)
		if err := rows.Scan(&line.SaleID, &line.SaleItemID, &line.SaleDate, &line.ProductID, &line.ProductName, &line.Quantity, &price, &cost); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if line.CurrentCostPrice, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		line.SaleDate = line.SaleDate.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if !isUUID(user.ID) || email == "" || user.PasswordHash == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO app_users (id, email, password_hash, active, created_at)
			VALUES ($1::uuid, $2, $3, $4, $5)
		`, user.ID, email, user.PasswordHash, user.Active, user.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		for _, role := range user.Roles {
			_, err := tx.Exec(ctx, `
				INSERT INTO user_roles (user_id, role) VALUES ($1::uuid, $2)
				ON CONFLICT DO NOTHING
			`, user.ID, role)
			if err != nil {
				if isForeignKeyViolation(err) {
					return store.ErrInvalidInput
				}
				return err
			}
		}
		return nil
	})
}

const userSelect = `
	SELECT u.id::text, u.email, u.password_hash, u.active, u.created_at,
		COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
	FROM app_users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
`

func scanUser(row pgx.Row) (domain.UserAccount, error) {
	var user domain.UserAccount
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Active, &user.CreatedAt, &user.Roles); err != nil {
		return user, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, userSelect+`
		WHERE u.email = $1
		GROUP BY u.id
	`, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	if !isUUID(id) {
		return nil, store.ErrNotFound
	}
	user, err := scanUser(s.pool.QueryRow(ctx, userSelect+`
		WHERE u.id = $1::uuid
		GROUP BY u.id
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, userSelect+`
		GROUP BY u.id
		ORDER BY u.created_at, u.email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) EnsureRoles(ctx context.Context, roles []string) error {
	for _, role := range roles {
		if strings.TrimSpace(role) == "" {
			return store.ErrInvalidInput
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO roles (name) VALUES ($1) ON CONFLICT DO NOTHING`, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) AddUserRole(ctx context.Context, userID string, role string) error {
	if !isUUID(userID) {
		return store.ErrNotFound
	}

	var roleExists, userExists bool
	err := s.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM roles WHERE name = $1),
			EXISTS (SELECT 1 FROM app_users WHERE id = $2::uuid)
	`, role, userID).Scan(&roleExists, &userExists)
	if err != nil {
		return err
	}
	if !roleExists {
		return store.ErrInvalidInput
	}
	if !userExists {
		return store.ErrNotFound
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1::uuid, $2)
		ON CONFLICT DO NOTHING
	`, userID, role)
	return err
}

func (s *Store) RemoveUserRole(ctx context.Context, userID string, role string) error {
	if !isUUID(userID) {
		return store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1::uuid AND role = $2`, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func isUUID(val string) bool {
	_, err := uuid.Parse(val)
	return err == nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
