// Package store persists the back office ledger in memory or in PostgreSQL.
// Both backends implement the repository ports of inventory, sales and expenses.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var errTxDone = errors.New("store: transaction already finished")

// Memory is an arena store. Product rows are guarded by per-id locks taken
// through LockProducts; writes are staged per transaction and applied on commit.
type Memory struct {
	locks *shared.KeyedLocker

	mu          sync.RWMutex
	seq         int64
	products    map[int64]inventory.Product
	batches     map[int64]inventory.Batch
	productions []inventory.ProductionRecord
	sales       []sales.Sale
	expenses    []expenses.Expense
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		locks:    shared.NewKeyedLocker(),
		products: make(map[int64]inventory.Product),
		batches:  make(map[int64]inventory.Batch),
	}
}

// Inventory returns the inventory repository view.
func (m *Memory) Inventory() *MemoryInventory { return &MemoryInventory{m: m} }

// Sales returns the sales repository view.
func (m *Memory) Sales() *MemorySales { return &MemorySales{m: m} }

// Expenses returns the expense repository view.
func (m *Memory) Expenses() *MemoryExpenses { return &MemoryExpenses{m: m} }

// MemoryInventory implements inventory.RepositoryPort.
type MemoryInventory struct{ m *Memory }

// MemorySales implements sales.RepositoryPort.
type MemorySales struct{ m *Memory }

// MemoryExpenses implements expenses.RepositoryPort.
type MemoryExpenses struct{ m *Memory }

func (m *Memory) withTx(ctx context.Context, fn func(*memTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemTx(m)
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) nextID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// WithTx runs fn in a transaction.
func (r *MemoryInventory) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.m.withTx(ctx, func(tx *memTx) error { return fn(ctx, tx) })
}

// GetProduct returns a committed product.
func (r *MemoryInventory) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	p, ok := r.m.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: id %d", inventory.ErrProductNotFound, id)
	}
	return cloneProduct(p), nil
}

// ListProducts lists committed products ordered by id.
func (r *MemoryInventory) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]inventory.Product, 0, len(r.m.products))
	for _, p := range r.m.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, p.ID) {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	slices.SortFunc(out, func(a, b inventory.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ListBatches lists batches oldest first.
func (r *MemoryInventory) ListBatches(ctx context.Context, filter inventory.BatchFilter) ([]inventory.Batch, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]inventory.Batch, 0)
	for _, b := range r.m.batches {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.OpenOnly && !b.Remaining.IsPositive() {
			continue
		}
		out = append(out, b)
	}
	sortBatches(out)
	return out, nil
}

// ListProductions lists production records, newest first.
func (r *MemoryInventory) ListProductions(ctx context.Context, limit int) ([]inventory.ProductionRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if limit <= 0 {
		limit = len(r.m.productions)
	}
	out := make([]inventory.ProductionRecord, 0, min(limit, len(r.m.productions)))
	for i := len(r.m.productions) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.m.productions[i]
		rec.Allocations = slices.Clone(rec.Allocations)
		out = append(out, rec)
	}
	return out, nil
}

// WithTx runs fn in a transaction.
func (r *MemorySales) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.m.withTx(ctx, func(tx *memTx) error { return fn(ctx, tx) })
}

// GetSale returns a committed sale.
func (r *MemorySales) GetSale(ctx context.Context, id int64) (sales.Sale, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, s := range r.m.sales {
		if s.ID == id {
			s.Items = slices.Clone(s.Items)
			return s, nil
		}
	}
	return sales.Sale{}, fmt.Errorf("%w: id %d", sales.ErrSaleNotFound, id)
}

// ListSales lists sales newest first.
func (r *MemorySales) ListSales(ctx context.Context, filter sales.Filter) ([]sales.Sale, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]sales.Sale, 0)
	for i := len(r.m.sales) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		s := r.m.sales[i]
		if !filter.Matches(s) {
			continue
		}
		s.Items = slices.Clone(s.Items)
		out = append(out, s)
	}
	return out, nil
}

// CountProducts counts committed products.
func (r *MemorySales) CountProducts(ctx context.Context) (int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return len(r.m.products), nil
}

// WithTx runs fn in a transaction.
func (r *MemoryExpenses) WithTx(ctx context.Context, fn func(context.Context, expenses.TxRepository) error) error {
	return r.m.withTx(ctx, func(tx *memTx) error { return fn(ctx, tx) })
}

// ListExpenses lists expenses newest first.
func (r *MemoryExpenses) ListExpenses(ctx context.Context, filter expenses.Filter) ([]expenses.Expense, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]expenses.Expense, 0)
	for i := len(r.m.expenses) - 1; i >= 0; i-- {
		if e := r.m.expenses[i]; filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// memTx stages writes until commit. It satisfies the transactional ports of
// every module.
type memTx struct {
	m      *Memory
	unlock func()
	done   bool

	locked      map[int64]struct{}
	products    map[int64]inventory.Product
	newProducts map[int64]struct{}
	deleted     map[int64]struct{}
	batches     map[int64]inventory.Batch
	productions []inventory.ProductionRecord
	sales       []sales.Sale
	expenses    []expenses.Expense
}

func newMemTx(m *Memory) *memTx {
	return &memTx{
		m:           m,
		locked:      make(map[int64]struct{}),
		products:    make(map[int64]inventory.Product),
		newProducts: make(map[int64]struct{}),
		deleted:     make(map[int64]struct{}),
		batches:     make(map[int64]inventory.Batch),
	}
}

func (tx *memTx) release() {
	tx.done = true
	if tx.unlock != nil {
		tx.unlock()
		tx.unlock = nil
	}
}

func (tx *memTx) commit() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for id, p := range tx.products {
		tx.m.products[id] = p
	}
	for id, b := range tx.batches {
		tx.m.batches[id] = b
	}
	for id := range tx.deleted {
		delete(tx.m.products, id)
		for batchID, b := range tx.m.batches {
			if b.ProductID == id {
				delete(tx.m.batches, batchID)
			}
		}
	}
	tx.m.productions = append(tx.m.productions, tx.productions...)
	tx.m.sales = append(tx.m.sales, tx.sales...)
	tx.m.expenses = append(tx.m.expenses, tx.expenses...)
}

func (tx *memTx) writable(productID int64) error {
	if tx.done {
		return errTxDone
	}
	if _, ok := tx.locked[productID]; ok {
		return nil
	}
	if _, ok := tx.newProducts[productID]; ok {
		return nil
	}
	return fmt.Errorf("store: product %d: %w", productID, inventory.ErrLockSetExceeded)
}

// LockProducts acquires the product locks for the whole transaction. It may be
// called once; ids are locked in ascending order.
func (tx *memTx) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	if tx.done {
		return nil, errTxDone
	}
	if tx.unlock != nil {
		return nil, fmt.Errorf("store: products already locked: %w", shared.ErrConflict)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, shared.ProductLockKey(id))
	}
	tx.unlock = tx.m.locks.LockAll(keys...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		tx.locked[id] = struct{}{}
		if p, ok := tx.products[id]; ok {
			out[id] = cloneProduct(p)
			continue
		}
		if p, ok := tx.m.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

// PeekProducts reads products without locking; staged writes win.
func (tx *memTx) PeekProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	if tx.done {
		return nil, errTxDone
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		if p, ok := tx.products[id]; ok {
			out[id] = cloneProduct(p)
		} else if p, ok := tx.m.products[id]; ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (tx *memTx) UpdateProduct(ctx context.Context, product inventory.Product) error {
	if err := tx.writable(product.ID); err != nil {
		return err
	}
	tx.products[product.ID] = cloneProduct(product)
	return nil
}

func (tx *memTx) InsertProduct(ctx context.Context, product inventory.Product) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	product.ID = tx.m.nextID()
	tx.products[product.ID] = cloneProduct(product)
	tx.newProducts[product.ID] = struct{}{}
	return product.ID, nil
}

func (tx *memTx) DeleteProduct(ctx context.Context, id int64) error {
	if err := tx.writable(id); err != nil {
		return err
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	for _, rec := range tx.m.productions {
		if rec.SourceProductID == id || rec.TargetProductID == id {
			return fmt.Errorf("store: product %d is referenced by production %d: %w", id, rec.ID, shared.ErrValidation)
		}
	}
	delete(tx.products, id)
	for batchID, b := range tx.batches {
		if b.ProductID == id {
			delete(tx.batches, batchID)
		}
	}
	tx.deleted[id] = struct{}{}
	return nil
}

func (tx *memTx) RecipeUsers(ctx context.Context, ingredientID int64) ([]int64, error) {
	if tx.done {
		return nil, errTxDone
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	uses := func(p inventory.Product) {
		seen[p.ID] = struct{}{}
		if _, gone := tx.deleted[p.ID]; gone {
			return
		}
		if slices.ContainsFunc(p.Recipe, func(l inventory.RecipeLine) bool { return l.IngredientID == ingredientID }) {
			out = append(out, p.ID)
		}
	}
	for _, p := range tx.products {
		uses(p)
	}
	for id, p := range tx.m.products {
		if _, ok := seen[id]; !ok {
			uses(p)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (tx *memTx) ListOpenBatches(ctx context.Context, productID int64) ([]inventory.Batch, error) {
	if err := tx.writable(productID); err != nil {
		return nil, err
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	seen := make(map[int64]struct{})
	out := make([]inventory.Batch, 0)
	for id, b := range tx.batches {
		seen[id] = struct{}{}
		if b.ProductID == productID && b.Remaining.IsPositive() {
			out = append(out, b)
		}
	}
	for id, b := range tx.m.batches {
		if _, ok := seen[id]; ok {
			continue
		}
		if b.ProductID == productID && b.Remaining.IsPositive() {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (tx *memTx) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error {
	if tx.done {
		return errTxDone
	}
	b, ok := tx.batches[batchID]
	if !ok {
		tx.m.mu.RLock()
		b, ok = tx.m.batches[batchID]
		tx.m.mu.RUnlock()
	}
	if !ok {
		return fmt.Errorf("store: batch %d: %w", batchID, shared.ErrNotFound)
	}
	if err := tx.writable(b.ProductID); err != nil {
		return err
	}
	if remaining.IsNegative() || remaining.GreaterThan(b.QuantityOriginal) {
		return fmt.Errorf("store: batch %d remaining %s out of range: %w", batchID, remaining, shared.ErrValidation)
	}
	b.Remaining = remaining
	tx.batches[batchID] = b
	return nil
}

func (tx *memTx) InsertBatch(ctx context.Context, batch inventory.Batch) (int64, error) {
	if err := tx.writable(batch.ProductID); err != nil {
		return 0, err
	}
	batch.ID = tx.m.nextID()
	tx.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memTx) InsertProduction(ctx context.Context, record inventory.ProductionRecord) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	record.ID = tx.m.nextID()
	record.Allocations = slices.Clone(record.Allocations)
	tx.productions = append(tx.productions, record)
	return record.ID, nil
}

func (tx *memTx) InsertSale(ctx context.Context, sale sales.Sale) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	sale.ID = tx.m.nextID()
	sale.Items = slices.Clone(sale.Items)
	tx.sales = append(tx.sales, sale)
	return sale.ID, nil
}

func (tx *memTx) InsertExpense(ctx context.Context, expense expenses.Expense) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	expense.ID = tx.m.nextID()
	tx.expenses = append(tx.expenses, expense)
	return expense.ID, nil
}

func cloneProduct(p inventory.Product) inventory.Product {
	p.Recipe = slices.Clone(p.Recipe)
	return p
}

func sortBatches(list []inventory.Batch) {
	slices.SortFunc(list, func(a, b inventory.Batch) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
