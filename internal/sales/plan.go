package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
)

// plan accumulates the effect of one sale on its locked products before
// anything is written.
type plan struct {
	allowNeg     bool
	requested    map[int64]struct{}
	locked       map[int64]inventory.Product
	order        []int64
	drawn        map[int64]decimal.Decimal
	consumptions []inventory.Consumption
	expenses     []expenses.Expense
	cogs         decimal.Decimal
	listed       decimal.Decimal
}

func newPlan(allowNeg bool) *plan {
	return &plan{
		allowNeg:  allowNeg,
		requested: make(map[int64]struct{}),
		drawn:     make(map[int64]decimal.Decimal),
		cogs:      decimal.Zero,
		listed:    decimal.Zero,
	}
}

// lock reads the sold products, then locks them together with their
// ingredients in a single acquisition.
func (p *plan) lock(ctx context.Context, tx TxRepository, items []Item) error {
	soldIDs := make([]int64, 0, len(items))
	for _, item := range items {
		soldIDs = append(soldIDs, item.ProductID)
	}
	sold, err := tx.PeekProducts(ctx, soldIDs)
	if err != nil {
		return err
	}
	for i, item := range items {
		product, ok := sold[item.ProductID]
		if !ok {
			return validationError("item %d: unknown product %d", i+1, item.ProductID)
		}
		p.requested[product.ID] = struct{}{}
		for _, id := range inventory.IngredientIDs(product) {
			p.requested[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(p.requested))
	for id := range p.requested {
		ids = append(ids, id)
	}
	p.locked, err = tx.LockProducts(ctx, ids)
	return err
}

func (p *plan) consumeItem(index int, item Item) error {
	product, ok := p.locked[item.ProductID]
	if !ok {
		return validationError("item %d: unknown product %d", index+1, item.ProductID)
	}
	p.listed = p.listed.Add(product.UnitPrice.Mul(item.Quantity))

	reqs := inventory.Expand(product, item.Quantity)
	if len(reqs) == 0 {
		reqs = []inventory.Requirement{{IngredientID: product.ID, Quantity: item.Quantity}}
	}
	for _, req := range reqs {
		ingredient, ok := p.locked[req.IngredientID]
		if !ok {
			if _, asked := p.requested[req.IngredientID]; asked {
				return validationError("item %d: %s uses unknown ingredient %d", index+1, product.Name, req.IngredientID)
			}
			return fmt.Errorf("sales: item %d ingredient %d: %w", index+1, req.IngredientID, inventory.ErrLockSetExceeded)
		}
		c, err := inventory.Consume(&ingredient, req.Quantity, p.allowNeg)
		if err != nil {
			return fmt.Errorf("sales: item %d: %w", index+1, err)
		}
		if _, seen := p.drawn[ingredient.ID]; !seen {
			p.order = append(p.order, ingredient.ID)
		}
		p.locked[ingredient.ID] = ingredient
		p.drawn[ingredient.ID] = p.drawn[ingredient.ID].Add(req.Quantity)
		p.consumptions = append(p.consumptions, c)
		p.cogs = p.cogs.Add(c.Cost)
		if ingredient.ExpenseOnly && product.IsComposite() {
			p.expenses = append(p.expenses, expenses.Expense{
				Description: fmt.Sprintf("Used %s %s of %s", req.Quantity, ingredient.Unit, ingredient.Name),
				Amount:      c.Cost,
				Category:    expenses.CategoryIngredient,
				Automatic:   true,
			})
		}
	}
	return nil
}
