package inventory

import (
	"slices"

	"github.com/shopspring/decimal"
)

// BatchDraw is the quantity taken from one batch.
type BatchDraw struct {
	BatchID   int64           `json:"batch_id"`
	BatchCode string          `json:"batch_code"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Allocation is the outcome of a FIFO draw against a product's batches.
type Allocation struct {
	Draws     []BatchDraw
	Allocated decimal.Decimal
	Shortfall decimal.Decimal
}

// Warning converts a shortfall into an under-allocation warning.
func (a Allocation) Warning(productID int64) (UnderAllocationWarning, bool) {
	if !a.Shortfall.IsPositive() {
		return UnderAllocationWarning{}, false
	}
	return UnderAllocationWarning{
		ProductID: productID,
		Requested: a.Allocated.Add(a.Shortfall),
		Allocated: a.Allocated,
		Shortfall: a.Shortfall,
	}, true
}

// AllocateFIFO drains qty from the batches oldest first (created_at, then id).
// The batches slice is updated in place; exhausted lists leave a shortfall
// instead of driving any remaining quantity below zero.
func AllocateFIFO(batches []Batch, qty decimal.Decimal) Allocation {
	alloc := Allocation{Allocated: decimal.Zero, Shortfall: decimal.Zero}
	if !qty.IsPositive() {
		return alloc
	}
	order := make([]int, 0, len(batches))
	for i := range batches {
		if batches[i].Remaining.IsPositive() {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := batches[a].CreatedAt.Compare(batches[b].CreatedAt); c != 0 {
			return c
		}
		switch {
		case batches[a].ID < batches[b].ID:
			return -1
		case batches[a].ID > batches[b].ID:
			return 1
		}
		return 0
	})

	needed := qty
	for _, idx := range order {
		if !needed.IsPositive() {
			break
		}
		batch := &batches[idx]
		take := decimal.Min(batch.Remaining, needed)
		batch.Remaining = batch.Remaining.Sub(take)
		needed = needed.Sub(take)
		alloc.Allocated = alloc.Allocated.Add(take)
		alloc.Draws = append(alloc.Draws, BatchDraw{
			BatchID:   batch.ID,
			BatchCode: batch.Code,
			Quantity:  take,
			Remaining: batch.Remaining,
		})
	}
	alloc.Shortfall = needed
	return alloc
}
