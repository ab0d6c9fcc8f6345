package inventory

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryRepo struct {
	products    map[int64]Product
	batches     map[int64]Batch
	productions []ProductionRecord
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product), batches: make(map[int64]Batch)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	var out []Product
	for _, p := range r.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, p.ID) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Product) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.OpenOnly && !b.Remaining.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Batch) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *memoryRepo) ListProductions(ctx context.Context, limit int) ([]ProductionRecord, error) {
	return r.productions, nil
}

func (tx *memoryTx) LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	for _, id := range ids {
		if p, ok := tx.repo.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (tx *memoryTx) UpdateProduct(ctx context.Context, product Product) error {
	tx.repo.products[product.ID] = product
	return nil
}

func (tx *memoryTx) ListOpenBatches(ctx context.Context, productID int64) ([]Batch, error) {
	return tx.repo.ListBatches(ctx, BatchFilter{ProductID: productID, OpenOnly: true})
}

func (tx *memoryTx) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error {
	b := tx.repo.batches[batchID]
	b.Remaining = remaining
	tx.repo.batches[batchID] = b
	return nil
}

func (tx *memoryTx) InsertProduct(ctx context.Context, product Product) (int64, error) {
	tx.repo.nextID++
	product.ID = tx.repo.nextID
	tx.repo.products[product.ID] = product
	return product.ID, nil
}

func (tx *memoryTx) DeleteProduct(ctx context.Context, id int64) error {
	delete(tx.repo.products, id)
	for batchID, b := range tx.repo.batches {
		if b.ProductID == id {
			delete(tx.repo.batches, batchID)
		}
	}
	return nil
}

func (tx *memoryTx) RecipeUsers(ctx context.Context, ingredientID int64) ([]int64, error) {
	var out []int64
	for _, p := range tx.repo.products {
		for _, line := range p.Recipe {
			if line.IngredientID == ingredientID {
				out = append(out, p.ID)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.nextID++
	batch.ID = tx.repo.nextID
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) InsertProduction(ctx context.Context, record ProductionRecord) (int64, error) {
	tx.repo.nextID++
	record.ID = tx.repo.nextID
	tx.repo.productions = append(tx.repo.productions, record)
	return record.ID, nil
}

type countingListener struct {
	events []StockChangedEvent
}

func (l *countingListener) HandleStockChanged(ctx context.Context, evt StockChangedEvent) error {
	l.events = append(l.events, evt)
	return nil
}

type recordedWarnings struct {
	count int
}

func (r *recordedWarnings) RecordUnderAllocation(source string, count int) {
	r.count += count
}

func mustCreate(t *testing.T, svc *Service, input ProductInput) Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), input)
	require.NoError(t, err)
	return p
}

func TestCreateProductDefaultsAndBasis(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	p := mustCreate(t, svc, ProductInput{Name: " Milk ", UnitCost: dec("0.2"), Quantity: dec("5"), Category: "Dairy"})
	require.Equal(t, "Milk", p.Name)
	require.Equal(t, "pcs", p.Unit)
	require.Equal(t, "dairy", p.Category)
	requireDecimal(t, "1", p.CostBasis)

	raw := mustCreate(t, svc, ProductInput{Name: "Sugar"})
	require.Equal(t, "raw", raw.Category)
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{Name: ""})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "X", UnitPrice: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "X", Quantity: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "Latte", Recipe: []RecipeLine{{IngredientID: 42, QuantityPerUnit: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "does not exist")

	milk := mustCreate(t, svc, ProductInput{Name: "Milk"})
	_, err = svc.CreateProduct(ctx, ProductInput{Name: "Latte", Recipe: []RecipeLine{{IngredientID: milk.ID, QuantityPerUnit: decimal.Zero}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateProduct(ctx, milk.ID, ProductInput{Name: "Milk", Recipe: []RecipeLine{{IngredientID: milk.ID, QuantityPerUnit: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateProductKeepsStock(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	p := mustCreate(t, svc, ProductInput{Name: "Beans", UnitCost: dec("2"), Quantity: dec("10")})

	updated, err := svc.UpdateProduct(context.Background(), p.ID, ProductInput{Name: "Arabica", UnitPrice: dec("9"), UnitCost: dec("2")})
	require.NoError(t, err)
	require.Equal(t, "Arabica", updated.Name)
	requireDecimal(t, "10", updated.QuantityOnHand)
	requireDecimal(t, "20", updated.CostBasis)

	_, err = svc.UpdateProduct(context.Background(), 999, ProductInput{Name: "Ghost"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListProductsHidesFromCashier(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	mustCreate(t, svc, ProductInput{Name: "Latte", VisibleToCashier: true})
	mustCreate(t, svc, ProductInput{Name: "Cups", ExpenseOnly: true, VisibleToCashier: true})
	mustCreate(t, svc, ProductInput{Name: "Secret", VisibleToCashier: false})
	ctx := context.Background()

	cashier, err := svc.ListProducts(ctx, shared.Actor{UserID: 1, Role: shared.RoleCashier}, ProductFilter{})
	require.NoError(t, err)
	require.Len(t, cashier, 1)
	require.Equal(t, "Latte", cashier[0].Name)

	admin, err := svc.ListProducts(ctx, shared.Actor{UserID: 2, Role: shared.RoleAdmin}, ProductFilter{})
	require.NoError(t, err)
	require.Len(t, admin, 3)
}

func TestReceiveBatchTracksProduct(t *testing.T) {
	repo := newMemoryRepo()
	listener := &countingListener{}
	svc := NewService(repo, nil, ServiceConfig{}, listener)
	p := mustCreate(t, svc, ProductInput{Name: "Beans"})

	batch, err := svc.ReceiveBatch(context.Background(), BatchInput{ProductID: p.ID, Quantity: dec("4"), BuyingPrice: dec("2.5")})
	require.NoError(t, err)
	require.Equal(t, BatchTypeNew, batch.Type)
	require.NotEmpty(t, batch.Code)

	stored := repo.products[p.ID]
	require.True(t, stored.TrackBatches)
	requireDecimal(t, "4", stored.QuantityOnHand)
	requireDecimal(t, "10", stored.CostBasis)
	require.Len(t, listener.events, 2)

	_, err = svc.ReceiveBatch(context.Background(), BatchInput{ProductID: 404, Quantity: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.ReceiveBatch(context.Background(), BatchInput{ProductID: p.ID, Quantity: dec("1"), Type: BatchTypeProduced})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordProductionConservesCost(t *testing.T) {
	repo := newMemoryRepo()
	warnings := &recordedWarnings{}
	svc := NewService(repo, nil, ServiceConfig{Warnings: warnings}, nil)
	ctx := context.Background()
	beans := mustCreate(t, svc, ProductInput{Name: "Green beans"})
	roasted := mustCreate(t, svc, ProductInput{Name: "Roasted beans"})

	_, err := svc.ReceiveBatch(ctx, BatchInput{ProductID: beans.ID, Quantity: dec("6"), BuyingPrice: dec("3")})
	require.NoError(t, err)
	svc.clock = func() time.Time { return time.Now().UTC().Add(time.Second) }
	_, err = svc.ReceiveBatch(ctx, BatchInput{ProductID: beans.ID, Quantity: dec("6"), BuyingPrice: dec("3")})
	require.NoError(t, err)

	result, err := svc.RecordProduction(ctx, ProductionInput{
		SourceProductID:  beans.ID,
		TargetProductID:  roasted.ID,
		QuantityUsed:     dec("8"),
		QuantityProduced: dec("6"),
		Waste:            dec("2"),
		UserID:           7,
	})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)
	requireDecimal(t, "24", result.Record.Cost)
	require.Len(t, result.Record.Allocations, 2)

	src := repo.products[beans.ID]
	dst := repo.products[roasted.ID]
	requireDecimal(t, "4", src.QuantityOnHand)
	requireDecimal(t, "12", src.CostBasis)
	requireDecimal(t, "6", dst.QuantityOnHand)
	requireDecimal(t, "24", dst.CostBasis)
	requireDecimal(t, "4", AverageUnitCost(dst))
	require.True(t, dst.TrackBatches)

	produced, err := svc.ListBatches(ctx, BatchFilter{ProductID: roasted.ID})
	require.NoError(t, err)
	require.Len(t, produced, 1)
	require.Equal(t, BatchTypeProduced, produced[0].Type)
	requireDecimal(t, "4", produced[0].BuyingPrice)
	require.Equal(t, 0, warnings.count)

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestRecordProductionSurfacesShortfall(t *testing.T) {
	repo := newMemoryRepo()
	warnings := &recordedWarnings{}
	svc := NewService(repo, nil, ServiceConfig{Warnings: warnings}, nil)
	ctx := context.Background()
	svc.allowNeg = true
	flour := mustCreate(t, svc, ProductInput{Name: "Flour", UnitCost: dec("1")})
	dough := mustCreate(t, svc, ProductInput{Name: "Dough"})
	_, err := svc.ReceiveBatch(ctx, BatchInput{ProductID: flour.ID, Quantity: dec("2"), BuyingPrice: dec("1")})
	require.NoError(t, err)

	result, err := svc.RecordProduction(ctx, ProductionInput{SourceProductID: flour.ID, TargetProductID: dough.ID, QuantityUsed: dec("5"), QuantityProduced: dec("5")})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	requireDecimal(t, "3", result.Warnings[0].Shortfall)
	require.Equal(t, 1, warnings.count)
	requireDecimal(t, "-3", repo.products[flour.ID].QuantityOnHand)
}

func TestRecordProductionValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	ctx := context.Background()
	a := mustCreate(t, svc, ProductInput{Name: "A", Quantity: dec("1")})

	_, err := svc.RecordProduction(ctx, ProductionInput{SourceProductID: a.ID, TargetProductID: a.ID, QuantityUsed: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordProduction(ctx, ProductionInput{SourceProductID: a.ID, TargetProductID: 99, QuantityUsed: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.RecordProduction(ctx, ProductionInput{SourceProductID: a.ID, TargetProductID: 99, QuantityUsed: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReconcileReportsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	p := mustCreate(t, svc, ProductInput{Name: "Beans"})
	batch, err := svc.ReceiveBatch(context.Background(), BatchInput{ProductID: p.ID, Quantity: dec("5")})
	require.NoError(t, err)

	edited := repo.batches[batch.ID]
	edited.Remaining = dec("2")
	repo.batches[batch.ID] = edited

	drifts, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	requireDecimal(t, "5", drifts[0].QuantityOnHand)
	requireDecimal(t, "2", drifts[0].BatchRemaining)
	requireDecimal(t, "3", drifts[0].Difference)
}

func TestReceiveBatchBooksOpeningStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	ctx := context.Background()
	milk := mustCreate(t, svc, ProductInput{Name: "Milk", UnitCost: dec("0.5"), Quantity: dec("10")})

	_, err := svc.ReceiveBatch(ctx, BatchInput{ProductID: milk.ID, Quantity: dec("2"), BuyingPrice: dec("0.8")})
	require.NoError(t, err)
	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)

	batches, err := svc.ListBatches(ctx, BatchFilter{ProductID: milk.ID})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, BatchTypeOpening, batches[0].Type)
	requireDecimal(t, "10", batches[0].Remaining)
	requireDecimal(t, "0.5", batches[0].BuyingPrice)
	require.Equal(t, BatchTypeNew, batches[1].Type)

	_, err = svc.ReceiveBatch(ctx, BatchInput{ProductID: milk.ID, Quantity: dec("1"), BuyingPrice: dec("0.8")})
	require.NoError(t, err)
	batches, err = svc.ListBatches(ctx, BatchFilter{ProductID: milk.ID})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	requireDecimal(t, "13", repo.products[milk.ID].QuantityOnHand)
}

func TestRecordProductionBooksTargetOpeningStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	ctx := context.Background()
	beans := mustCreate(t, svc, ProductInput{Name: "Green beans", UnitCost: dec("1"), Quantity: dec("6")})
	roasted := mustCreate(t, svc, ProductInput{Name: "Roasted beans", UnitCost: dec("2"), Quantity: dec("4")})

	_, err := svc.RecordProduction(ctx, ProductionInput{SourceProductID: beans.ID, TargetProductID: roasted.ID, QuantityUsed: dec("6"), QuantityProduced: dec("5")})
	require.NoError(t, err)

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
	dst := repo.products[roasted.ID]
	requireDecimal(t, "9", dst.QuantityOnHand)
	requireDecimal(t, "14", dst.CostBasis)
}

func TestRecordProductionConservesNonTerminatingCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{}, nil)
	ctx := context.Background()
	flour := mustCreate(t, svc, ProductInput{Name: "Flour", UnitCost: dec("1"), Quantity: dec("10")})
	dough := mustCreate(t, svc, ProductInput{Name: "Dough"})

	result, err := svc.RecordProduction(ctx, ProductionInput{SourceProductID: flour.ID, TargetProductID: dough.ID, QuantityUsed: dec("10"), QuantityProduced: dec("3")})
	require.NoError(t, err)
	requireDecimal(t, "10", result.Record.Cost)

	src := repo.products[flour.ID]
	dst := repo.products[dough.ID]
	require.True(t, src.CostBasis.IsZero())
	requireDecimal(t, "10", dst.CostBasis)
	requireDecimal(t, "3", dst.QuantityOnHand)

	drawn := decimal.Zero
	for _, qty := range []string{"1", "1", "1"} {
		c, err := Consume(&dst, dec(qty), false)
		require.NoError(t, err)
		drawn = drawn.Add(c.Cost)
	}
	requireDecimal(t, "10", drawn)
}

func TestDeleteProduct(t *testing.T) {
	repo := newMemoryRepo()
	listener := &countingListener{}
	svc := NewService(repo, nil, ServiceConfig{}, listener)
	ctx := context.Background()
	milk := mustCreate(t, svc, ProductInput{Name: "Milk"})
	latte := mustCreate(t, svc, ProductInput{Name: "Latte", Recipe: []RecipeLine{{IngredientID: milk.ID, QuantityPerUnit: dec("0.2")}}})
	beans := mustCreate(t, svc, ProductInput{Name: "Beans"})
	_, err := svc.ReceiveBatch(ctx, BatchInput{ProductID: beans.ID, Quantity: dec("1")})
	require.NoError(t, err)

	err = svc.DeleteProduct(ctx, milk.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "ingredient")

	err = svc.DeleteProduct(ctx, beans.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "open batches")

	require.NoError(t, svc.DeleteProduct(ctx, latte.ID, 1))
	require.NoError(t, svc.DeleteProduct(ctx, milk.ID, 1))
	_, err = svc.GetProduct(ctx, milk.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.ErrorIs(t, svc.DeleteProduct(ctx, milk.ID, 1), shared.ErrNotFound)
	require.ErrorIs(t, svc.DeleteProduct(ctx, 0, 1), shared.ErrNotFound)
	require.Equal(t, "product", listener.events[len(listener.events)-1].Source)
}

func TestEstimateMaxProducibleCachedAndInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{Cache: cache}, cache)
	ctx := context.Background()

	a := mustCreate(t, svc, ProductInput{Name: "A", Quantity: dec("10")})
	b := mustCreate(t, svc, ProductInput{Name: "B", Quantity: dec("3")})
	combo := mustCreate(t, svc, ProductInput{Name: "Combo", Recipe: []RecipeLine{
		{IngredientID: a.ID, QuantityPerUnit: dec("2")},
		{IngredientID: b.ID, QuantityPerUnit: dec("1")},
	}})

	got, err := svc.EstimateMaxProducible(ctx, combo.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), got.MaxUnits)
	require.Equal(t, "B", *got.LimitingIngredient)

	_, err = svc.ReceiveBatch(ctx, BatchInput{ProductID: b.ID, Quantity: dec("10")})
	require.NoError(t, err)
	got, err = svc.EstimateMaxProducible(ctx, combo.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.MaxUnits)
	require.Equal(t, "A", *got.LimitingIngredient)

	simple, err := svc.EstimateMaxProducible(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), simple.MaxUnits)
	require.Nil(t, simple.LimitingIngredient)

	_, err = svc.EstimateMaxProducible(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
