package expenses

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	// CategoryIngredient tags expenses booked automatically for expense-only ingredients.
	CategoryIngredient = "ingredient"
	// CategoryGeneral is the default for manual expenses.
	CategoryGeneral = "general"
)

// Expense is money spent outside of COGS.
type Expense struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Automatic   bool            `json:"automatic"`
	SaleID      *int64          `json:"sale_id,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Input is a manual expense entry.
type Input struct {
	Description string
	Amount      decimal.Decimal
	Category    string
	CreatedBy   int64
}

// Filter narrows expense listings. Zero values match everything.
type Filter struct {
	Category  string
	Automatic *bool
	SaleID    int64
	From      time.Time
	To        time.Time
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e Expense) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Automatic != nil && e.Automatic != *f.Automatic {
		return false
	}
	if f.SaleID != 0 && (e.SaleID == nil || *e.SaleID != f.SaleID) {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Total sums the amounts.
func Total(list []Expense) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range list {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// ErrInvalidAmount indicates a negative or zero expense.
var ErrInvalidAmount = fmt.Errorf("expenses: amount must be positive: %w", shared.ErrValidation)

// ErrDescriptionRequired indicates an empty description.
var ErrDescriptionRequired = fmt.Errorf("expenses: description required: %w", shared.ErrValidation)
