package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// DefaultPaymentMethod applies when the cashier does not choose one.
const DefaultPaymentMethod = "cash"

// Item is one sold line.
type Item struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Sale is an immutable settled checkout.
type Sale struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference,omitempty"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	COGS          decimal.Decimal `json:"cogs"`
	Profit        decimal.Decimal `json:"profit"`
	PaymentMethod string          `json:"payment_method"`
	CashierID     int64           `json:"cashier_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SettleInput is a checkout request. Total is supplied by the caller.
type SettleInput struct {
	Items         []Item
	Total         *decimal.Decimal
	PaymentMethod string
	CashierID     int64
	Reference     string
}

// Settlement is the committed sale with everything it touched.
type Settlement struct {
	Sale         Sale                               `json:"sale"`
	Expenses     []expenses.Expense                 `json:"expenses"`
	Consumptions []inventory.Consumption            `json:"consumptions"`
	Warnings     []inventory.UnderAllocationWarning `json:"warnings,omitempty"`
}

// Filter narrows sale listings.
type Filter struct {
	CashierID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// Matches reports whether the sale satisfies the filter, ignoring Limit.
func (f Filter) Matches(s Sale) bool {
	if f.CashierID != 0 && s.CashierID != f.CashierID {
		return false
	}
	if !f.From.IsZero() && s.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Summary aggregates sales, COGS and expenses.
type Summary struct {
	TotalSales    decimal.Decimal `json:"totalSales"`
	TotalCOGS     decimal.Decimal `json:"totalCOGS"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	GrossProfit   decimal.Decimal `json:"grossProfit"`
	NetProfit     decimal.Decimal `json:"netProfit"`
	SalesCount    int             `json:"salesCount"`
	ProductCount  int             `json:"productCount"`
	DailySales    decimal.Decimal `json:"dailySales"`
	WeeklySales   decimal.Decimal `json:"weeklySales"`
}

// ErrSaleNotFound wraps shared.ErrNotFound for sales.
var ErrSaleNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)

// ErrDuplicateSale is returned when a reference was already settled.
var ErrDuplicateSale = fmt.Errorf("sales: duplicate reference: %w", shared.ErrIdempotencyConflict)

func validationError(format string, args ...any) error {
	return fmt.Errorf("sales: %s: %w", fmt.Sprintf(format, args...), shared.ErrValidation)
}
