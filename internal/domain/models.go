package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for currency values.
const MoneyScale = 2

const (
	RoleSuperAdmin  = "SuperAdmin"
	RoleStoreOwner  = "StoreOwner"
	RoleSalesPerson = "SalesPerson"
)

// Roles lists every role the application seeds, in display order.
var Roles = []string{RoleSuperAdmin, RoleStoreOwner, RoleSalesPerson}

type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Stock        int             `json:"stock"`
	Category     string          `json:"category,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ProductFilter struct {
	Search string
}

type ProductCreateRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Stock        int             `json:"stock" validate:"gte=0,lte=100000"`
	Category     string          `json:"category" validate:"max=100"`
	Description  string          `json:"description" validate:"max=1000"`
}

// ProductUpdateRequest mirrors the edit form: description is not editable there.
type ProductUpdateRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Stock        int             `json:"stock" validate:"gte=0,lte=100000"`
	Category     string          `json:"category" validate:"max=100"`
}

// CartLine is one caller-proposed line of a sale.
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type RecordSaleRequest struct {
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	CartLines     []CartLine `json:"cart_lines"`
}

type RecordSaleResponse struct {
	SaleID int64 `json:"sale_id"`
}

type Sale struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id,omitempty"`
	UserEmail     string     `json:"user_email,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	SaleDate      time.Time  `json:"sale_date"`
	Items         []SaleItem `json:"items"`
}

type SaleItem struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total is the snapshot value of the sale: sum of quantity x unit price.
func (s Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

type SaleHistoryResponse struct {
	Sales []Sale `json:"sales"`
}

type ReceiptLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Receipt struct {
	SaleID        int64           `json:"sale_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	SaleDate      time.Time       `json:"sale_date"`
	Lines         []ReceiptLine   `json:"lines"`
	Total         decimal.Decimal `json:"total"`
}

// SaleLineRecord is one flattened row of the profit/loss source query:
// a sale item joined with its sale date and the product as it is now.
type SaleLineRecord struct {
	SaleID           int64
	SaleItemID       int64
	SaleDate         time.Time
	ProductID        int64
	ProductName      string
	Quantity         int
	UnitPrice        decimal.Decimal
	CurrentCostPrice decimal.Decimal
}

type ProfitLossLine struct {
	SaleDate     time.Time       `json:"sale_date"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	Profit       decimal.Decimal `json:"profit"`
}

type ProfitLossTotals struct {
	Revenue decimal.Decimal `json:"total_revenue"`
	Cost    decimal.Decimal `json:"total_cost"`
	Profit  decimal.Decimal `json:"total_profit"`
}

type ProfitLossReport struct {
	From   time.Time        `json:"from"`
	To     time.Time        `json:"to"`
	Lines  []ProfitLossLine `json:"lines"`
	Totals ProfitLossTotals `json:"totals"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Roles       []string `json:"roles"`
	ExpiresAt   string   `json:"expires_at"`
}

// Actor is the authenticated caller carried in the request context.
type Actor struct {
	UserID string
	Email  string
	Roles  []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	Roles        []string
}

type UserWithRoles struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Roles     []string  `json:"roles"`
}

type RoleChangeRequest struct {
	Role string `json:"role"`
}
