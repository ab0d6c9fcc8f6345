package sales

import (
	"context"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts sale persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter Filter) ([]Sale, error)
	CountProducts(ctx context.Context) (int, error)
}

// TxRepository is the settlement unit of work: the locked stock ledger plus
// sale and expense writes.
type TxRepository interface {
	inventory.StockTx
	expenses.TxRepository
	// PeekProducts reads products without locking them.
	PeekProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
}

// IdempotencyPort reserves client references.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ExpenseLister reads expenses for reporting.
type ExpenseLister interface {
	List(ctx context.Context, filter expenses.Filter) ([]expenses.Expense, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
