package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RecipeLine is one bill-of-materials entry of a composite product.
type RecipeLine struct {
	IngredientID    int64           `json:"ingredient_id" validate:"required,gt=0"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
}

// Product is a sellable item or a raw material.
type Product struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	QuantityOnHand   decimal.Decimal `json:"quantity_on_hand"`
	Unit             string          `json:"unit"`
	Category         string          `json:"category"`
	Recipe           []RecipeLine    `json:"recipe"`
	ExpenseOnly      bool            `json:"expense_only"`
	VisibleToCashier bool            `json:"visible_to_cashier"`
	TrackBatches     bool            `json:"track_batches"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsComposite reports whether the product is consumed through its recipe.
func (p Product) IsComposite() bool {
	return len(p.Recipe) > 0
}

// VisibleTo reports whether the actor may see the product in the catalog.
func (p Product) VisibleTo(actor shared.Actor) bool {
	if !actor.IsCashier() {
		return true
	}
	return !p.ExpenseOnly && p.VisibleToCashier
}

// BatchType classifies how a lot entered stock.
type BatchType string

const (
	// BatchTypeNew is a purchased lot.
	BatchTypeNew BatchType = "new"
	// BatchTypeReturned is stock returned by a customer.
	BatchTypeReturned BatchType = "returned"
	// BatchTypeProduced is output of a production conversion.
	BatchTypeProduced BatchType = "produced"
	// BatchTypeOpening carries the stock a product held before its first batch.
	BatchTypeOpening BatchType = "opening"
)

// Batch is a lot of a product, drained oldest first.
type Batch struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	Code             string          `json:"batch_code"`
	BuyingPrice      decimal.Decimal `json:"buying_price"`
	SellingPrice     decimal.Decimal `json:"selling_price"`
	QuantityOriginal decimal.Decimal `json:"quantity_original"`
	Remaining        decimal.Decimal `json:"remaining"`
	Type             BatchType       `json:"type"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ProductionRecord captures one raw to intermediate conversion.
type ProductionRecord struct {
	ID               int64           `json:"id"`
	SourceProductID  int64           `json:"source_product_id"`
	TargetProductID  int64           `json:"target_product_id"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
	QuantityProduced decimal.Decimal `json:"quantity_produced"`
	Waste            decimal.Decimal `json:"waste"`
	Cost             decimal.Decimal `json:"cost"`
	Allocations      []BatchDraw     `json:"allocations"`
	UserID           int64           `json:"user_id"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Category string
	IDs      []int64
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID int64
	OpenOnly  bool
}

// ProductInput describes a catalog create or update request.
type ProductInput struct {
	Name             string
	UnitPrice        decimal.Decimal
	UnitCost         decimal.Decimal
	Quantity         decimal.Decimal
	Unit             string
	Category         string
	Recipe           []RecipeLine
	ExpenseOnly      bool
	VisibleToCashier bool
	ActorID          int64
}

// BatchInput describes a batch intake.
type BatchInput struct {
	ProductID    int64
	Code         string
	BuyingPrice  decimal.Decimal
	SellingPrice decimal.Decimal
	Quantity     decimal.Decimal
	Type         BatchType
	ActorID      int64
}

// ProductionInput describes a production conversion request.
type ProductionInput struct {
	SourceProductID  int64
	TargetProductID  int64
	QuantityUsed     decimal.Decimal
	QuantityProduced decimal.Decimal
	Waste            decimal.Decimal
	UserID           int64
}

// ProductionResult is the persisted record plus non-fatal ledger warnings.
type ProductionResult struct {
	Record   ProductionRecord         `json:"record"`
	Warnings []UnderAllocationWarning `json:"warnings,omitempty"`
}

// UnderAllocationWarning reports that the batch ledger could not cover a draw.
type UnderAllocationWarning struct {
	ProductID int64           `json:"product_id"`
	Requested decimal.Decimal `json:"requested"`
	Allocated decimal.Decimal `json:"allocated"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func (w UnderAllocationWarning) Error() string {
	return fmt.Sprintf("inventory: product %d under-allocated by %s (requested %s, allocated %s)",
		w.ProductID, w.Shortfall, w.Requested, w.Allocated)
}

// ErrProductNotFound wraps shared.ErrNotFound for products.
var ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)

// ErrInsufficientStock triggered when a draw would result in negative stock.
var ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrValidation)

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrValidation)

// ErrLockSetExceeded is returned when a transaction touches a product it did not lock,
// typically because a recipe changed between the read and the lock.
var ErrLockSetExceeded = fmt.Errorf("inventory: product outside of the locked set: %w", shared.ErrConflict)

func validationError(format string, args ...any) error {
	return fmt.Errorf("inventory: %s: %w", fmt.Sprintf(format, args...), shared.ErrValidation)
}
