package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func seedProduct(t *testing.T, m *Memory, p inventory.Product) int64 {
	t.Helper()
	var id int64
	err := m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		id, err = tx.InsertProduct(ctx, p)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestMemoryRollbackDiscardsStagedWrites(t *testing.T) {
	m := NewMemory()
	id := seedProduct(t, m, inventory.Product{Name: "Beans", QuantityOnHand: decimal.NewFromInt(5)})
	boom := errors.New("boom")

	err := m.Sales().WithTx(context.Background(), func(ctx context.Context, tx sales.TxRepository) error {
		locked, err := tx.LockProducts(ctx, []int64{id})
		require.NoError(t, err)
		p := locked[id]
		p.QuantityOnHand = decimal.Zero
		require.NoError(t, tx.UpdateProduct(ctx, p))
		_, err = tx.InsertSale(ctx, sales.Sale{Total: decimal.NewFromInt(1)})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := m.Inventory().GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.True(t, p.QuantityOnHand.Equal(decimal.NewFromInt(5)))
	list, err := m.Sales().ListSales(context.Background(), sales.Filter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryRejectsWritesOutsideLockSet(t *testing.T) {
	m := NewMemory()
	a := seedProduct(t, m, inventory.Product{Name: "A"})
	b := seedProduct(t, m, inventory.Product{Name: "B"})

	err := m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockProducts(ctx, []int64{a}); err != nil {
			return err
		}
		return tx.UpdateProduct(ctx, inventory.Product{ID: b, Name: "B2"})
	})
	require.ErrorIs(t, err, inventory.ErrLockSetExceeded)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockProducts(ctx, []int64{a}); err != nil {
			return err
		}
		_, err := tx.LockProducts(ctx, []int64{b})
		return err
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMemoryLockBlocksSecondWriter(t *testing.T) {
	m := NewMemory()
	id := seedProduct(t, m, inventory.Product{Name: "Beans"})
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
			_, err := tx.LockProducts(ctx, []int64{id})
			close(locked)
			<-release
			return err
		})
	}()
	<-locked

	go func() {
		defer close(done)
		_ = m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
			_, err := tx.LockProducts(ctx, []int64{id})
			return err
		})
	}()

	select {
	case <-done:
		t.Fatal("second transaction acquired a held product lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second transaction never acquired the lock")
	}
}

func TestMemoryBatchesStayWithinBounds(t *testing.T) {
	m := NewMemory()
	id := seedProduct(t, m, inventory.Product{Name: "Beans"})
	var batchID int64
	err := m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockProducts(ctx, []int64{id}); err != nil {
			return err
		}
		var err error
		batchID, err = tx.InsertBatch(ctx, inventory.Batch{ProductID: id, QuantityOriginal: decimal.NewFromInt(3), Remaining: decimal.NewFromInt(3), CreatedAt: time.Now()})
		return err
	})
	require.NoError(t, err)

	err = m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockProducts(ctx, []int64{id}); err != nil {
			return err
		}
		return tx.UpdateBatchRemaining(ctx, batchID, decimal.NewFromInt(-1))
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = m.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockProducts(ctx, []int64{id}); err != nil {
			return err
		}
		alloc, err := inventory.DrainBatches(ctx, tx, id, decimal.NewFromInt(2))
		require.True(t, alloc.Shortfall.IsZero())
		return err
	})
	require.NoError(t, err)

	open, err := m.Inventory().ListBatches(context.Background(), inventory.BatchFilter{ProductID: id, OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].Remaining.Equal(decimal.NewFromInt(1)))
}

func TestMemoryCanceledContextAbortsCommit(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	err := m.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := tx.InsertProduct(ctx, inventory.Product{Name: "Late"})
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	list, err := m.Inventory().ListProducts(context.Background(), inventory.ProductFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryDeleteProduct(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	milk := seedProduct(t, m, inventory.Product{Name: "Milk"})
	latte := seedProduct(t, m, inventory.Product{Name: "Latte", Recipe: []inventory.RecipeLine{{IngredientID: milk, QuantityPerUnit: decimal.NewFromInt(1)}}})
	cream := seedProduct(t, m, inventory.Product{Name: "Cream"})

	err := m.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		users, err := tx.RecipeUsers(ctx, milk)
		require.NoError(t, err)
		require.Equal(t, []int64{latte}, users)

		_, err = tx.LockProducts(ctx, []int64{latte, cream})
		require.NoError(t, err)
		_, err = tx.InsertBatch(ctx, inventory.Batch{ProductID: latte, QuantityOriginal: decimal.NewFromInt(1), Remaining: decimal.Zero})
		require.NoError(t, err)
		require.NoError(t, tx.DeleteProduct(ctx, latte))
		_, err = tx.InsertProduction(ctx, inventory.ProductionRecord{SourceProductID: cream, TargetProductID: milk})
		return err
	})
	require.NoError(t, err)

	_, err = m.Inventory().GetProduct(ctx, latte)
	require.ErrorIs(t, err, shared.ErrNotFound)
	batches, err := m.Inventory().ListBatches(ctx, inventory.BatchFilter{ProductID: latte})
	require.NoError(t, err)
	require.Empty(t, batches)

	err = m.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		users, err := tx.RecipeUsers(ctx, milk)
		require.NoError(t, err)
		require.Empty(t, users)
		if _, err := tx.LockProducts(ctx, []int64{cream}); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, cream)
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
