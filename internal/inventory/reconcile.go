package inventory

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Drift is a batch-tracked product whose stock disagrees with its open batches.
type Drift struct {
	ProductID      int64           `json:"product_id"`
	Name           string          `json:"name"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	BatchRemaining decimal.Decimal `json:"batch_remaining"`
	Difference     decimal.Decimal `json:"difference"`
}

// Reconcile compares QuantityOnHand with the sum of batch remainders for every
// batch-tracked product.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	products, err := s.repo.ListProducts(ctx, ProductFilter{})
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, BatchFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	remaining := make(map[int64]decimal.Decimal, len(products))
	for _, b := range batches {
		remaining[b.ProductID] = remaining[b.ProductID].Add(b.Remaining)
	}
	var drifts []Drift
	for _, p := range products {
		if !p.TrackBatches {
			continue
		}
		sum := remaining[p.ID]
		if sum.Equal(p.QuantityOnHand) {
			continue
		}
		drifts = append(drifts, Drift{
			ProductID:      p.ID,
			Name:           p.Name,
			QuantityOnHand: p.QuantityOnHand,
			BatchRemaining: sum,
			Difference:     p.QuantityOnHand.Sub(sum),
		})
	}
	if len(drifts) > 0 {
		s.logger.WarnContext(ctx, "inventory ledger drift", slog.Int("products", len(drifts)))
	}
	return drifts, nil
}
