package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ListProductions(ctx context.Context, limit int) ([]ProductionRecord, error)
}

// StockTx is the locked product ledger shared by every writer of stock.
// LockProducts is called once per transaction with the full id set; ids that
// do not exist are absent from the returned map. Batches are guarded by the
// lock of their product.
type StockTx interface {
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	UpdateProduct(ctx context.Context, product Product) error
	ListOpenBatches(ctx context.Context, productID int64) ([]Batch, error)
	UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	StockTx
	InsertProduct(ctx context.Context, product Product) (int64, error)
	// DeleteProduct removes a locked product together with its exhausted batches.
	DeleteProduct(ctx context.Context, id int64) error
	// RecipeUsers lists the products whose recipe names the ingredient.
	RecipeUsers(ctx context.Context, ingredientID int64) ([]int64, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	InsertProduction(ctx context.Context, record ProductionRecord) (int64, error)
}

// DrainBatches runs the FIFO ledger against the product's open batches inside tx
// and persists every touched batch.
func DrainBatches(ctx context.Context, tx StockTx, productID int64, qty decimal.Decimal) (Allocation, error) {
	batches, err := tx.ListOpenBatches(ctx, productID)
	if err != nil {
		return Allocation{}, err
	}
	alloc := AllocateFIFO(batches, qty)
	for _, draw := range alloc.Draws {
		if err := tx.UpdateBatchRemaining(ctx, draw.BatchID, draw.Remaining); err != nil {
			return Allocation{}, err
		}
	}
	return alloc, nil
}
