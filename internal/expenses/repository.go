package expenses

import "context"

// RepositoryPort abstracts expense persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListExpenses(ctx context.Context, filter Filter) ([]Expense, error)
}

// TxRepository writes expenses inside a transaction. Sale settlement reuses it
// for automatic ingredient expenses.
type TxRepository interface {
	InsertExpense(ctx context.Context, expense Expense) (int64, error)
}
