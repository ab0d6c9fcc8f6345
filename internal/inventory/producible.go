package inventory

import "github.com/shopspring/decimal"

// Producibility answers how many units of a composite product can be made.
type Producibility struct {
	ProductID          int64   `json:"product_id"`
	MaxUnits           int64   `json:"max_units"`
	LimitingIngredient *string `json:"limiting_ingredient"`
}

// MaxProducible bounds the producible units by the scarcest ingredient.
// Ingredients absent from the map are skipped.
func MaxProducible(product Product, ingredients map[int64]Product) Producibility {
	result := Producibility{ProductID: product.ID}
	if !product.IsComposite() {
		return result
	}
	var (
		best     decimal.Decimal
		limiting *string
		found    bool
	)
	for _, line := range product.Recipe {
		raw, ok := ingredients[line.IngredientID]
		if !ok {
			continue
		}
		possible := decimal.Zero
		if !line.QuantityPerUnit.IsZero() {
			possible = raw.QuantityOnHand.Div(line.QuantityPerUnit)
		}
		if !found || possible.LessThan(best) {
			best = possible
			name := raw.Name
			limiting = &name
			found = true
		}
	}
	if !found {
		return result
	}
	units := best.Floor()
	if units.IsNegative() {
		units = decimal.Zero
	}
	result.MaxUnits = units.IntPart()
	result.LimitingIngredient = limiting
	return result
}
