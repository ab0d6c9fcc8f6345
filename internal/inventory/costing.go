package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Consumption records one draw from a product's stock and its cost.
type Consumption struct {
	ProductID      int64           `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Cost           decimal.Decimal `json:"cost"`
	QuantityBefore decimal.Decimal `json:"quantity_before"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
}

// AverageUnitCost is the weighted-average cost of one unit on hand.
// With nothing on hand the last known per-unit cost applies.
func AverageUnitCost(p Product) decimal.Decimal {
	if p.QuantityOnHand.IsPositive() {
		return p.CostBasis.Div(p.QuantityOnHand)
	}
	return p.UnitCost
}

// Consume draws qty from the product at its average cost and updates the
// quantity and cost basis in place. Emptying the stock charges the whole
// remaining basis, so the costs of successive draws add up to what was received.
func Consume(p *Product, qty decimal.Decimal, allowNegative bool) (Consumption, error) {
	if !qty.IsPositive() {
		return Consumption{}, ErrInvalidQuantity
	}
	before := p.QuantityOnHand
	after := before.Sub(qty)
	if !allowNegative && after.IsNegative() {
		return Consumption{}, fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientStock, p.Name, before, p.Unit, qty)
	}
	unitCost := AverageUnitCost(*p)
	cost := unitCost.Mul(qty)
	if before.IsPositive() && !after.IsPositive() {
		// the last units on hand carry whatever basis is left
		cost = p.CostBasis.Add(unitCost.Mul(after.Neg()))
	}

	p.QuantityOnHand = after
	if after.IsPositive() {
		p.CostBasis = p.CostBasis.Sub(cost)
		if p.CostBasis.IsNegative() {
			p.CostBasis = decimal.Zero
		}
	} else {
		p.CostBasis = decimal.Zero
	}
	return Consumption{
		ProductID:      p.ID,
		Quantity:       qty,
		UnitCost:       unitCost,
		Cost:           cost,
		QuantityBefore: before,
		QuantityAfter:  after,
	}, nil
}

// Receive adds qty at unitCost to the product's stock.
func Receive(p *Product, qty, unitCost decimal.Decimal) error {
	if unitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	if err := ReceiveValue(p, qty, qty.Mul(unitCost)); err != nil {
		return err
	}
	p.UnitCost = unitCost
	return nil
}

// ReceiveValue adds qty worth value in total to the product's stock. The value
// enters the cost basis as is; the per-unit cost is derived for display only.
func ReceiveValue(p *Product, qty, value decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if value.IsNegative() {
		return ErrInvalidUnitCost
	}
	before := p.QuantityOnHand
	p.QuantityOnHand = before.Add(qty)
	switch {
	case !p.QuantityOnHand.IsPositive():
		p.CostBasis = decimal.Zero
	case before.IsNegative():
		// the deficit is covered first, only the surplus stays on hand
		p.CostBasis = value.Mul(p.QuantityOnHand).Div(qty)
	default:
		p.CostBasis = p.CostBasis.Add(value)
	}
	p.UnitCost = value.Div(qty)
	return nil
}
