package expenses

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryRepo struct {
	items  []Expense
	nextID int64
	txErr  error
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.txErr != nil {
		return r.txErr
	}
	return fn(ctx, r)
}

func (r *memoryRepo) InsertExpense(ctx context.Context, e Expense) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	r.items = append(r.items, e)
	return e.ID, nil
}

func (r *memoryRepo) ListExpenses(ctx context.Context, filter Filter) ([]Expense, error) {
	var out []Expense
	for _, e := range r.items {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestCreateManualExpense(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil)

	e, err := svc.Create(context.Background(), Input{Description: " Rent ", Amount: decimal.RequireFromString("150.50"), CreatedBy: 3})
	require.NoError(t, err)
	require.Equal(t, int64(1), e.ID)
	require.Equal(t, "Rent", e.Description)
	require.Equal(t, CategoryGeneral, e.Category)
	require.False(t, e.Automatic)
	require.Nil(t, e.SaleID)
	require.False(t, e.CreatedAt.IsZero())
}

func TestCreateExpenseValidation(t *testing.T) {
	svc := NewService(&memoryRepo{}, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{Description: "", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, Input{Description: "x", Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateExpensePropagatesRepoError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&memoryRepo{txErr: boom}, nil, nil)
	_, err := svc.Create(context.Background(), Input{Description: "x", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, boom)
}

func TestFilterMatches(t *testing.T) {
	saleID := int64(9)
	auto := true
	repo := &memoryRepo{items: []Expense{
		{ID: 1, Category: CategoryIngredient, Automatic: true, SaleID: &saleID, Amount: decimal.NewFromInt(2)},
		{ID: 2, Category: CategoryGeneral, Amount: decimal.NewFromInt(5)},
	}}
	svc := NewService(repo, nil, nil)

	list, err := svc.List(context.Background(), Filter{Automatic: &auto})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(1), list[0].ID)

	list, err = svc.List(context.Background(), Filter{SaleID: 9})
	require.NoError(t, err)
	require.Len(t, list, 1)

	all, err := svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.True(t, Total(all).Equal(decimal.NewFromInt(7)))
}
