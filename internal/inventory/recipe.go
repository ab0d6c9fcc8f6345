package inventory

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Requirement is the quantity of one ingredient needed for a sale line.
type Requirement struct {
	IngredientID int64
	Quantity     decimal.Decimal
}

// Expand resolves one level of the product's recipe for the sold quantity.
// Ingredients that are composite themselves are returned as raw draws.
// A simple product expands to nothing; the caller draws the product itself.
func Expand(product Product, sold decimal.Decimal) []Requirement {
	if !product.IsComposite() {
		return nil
	}
	out := make([]Requirement, 0, len(product.Recipe))
	for _, line := range product.Recipe {
		out = append(out, Requirement{
			IngredientID: line.IngredientID,
			Quantity:     line.QuantityPerUnit.Mul(sold),
		})
	}
	return out
}

// IngredientIDs lists the distinct ingredient ids referenced by the recipe.
func IngredientIDs(product Product) []int64 {
	ids := make([]int64, 0, len(product.Recipe))
	for _, line := range product.Recipe {
		ids = append(ids, line.IngredientID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
