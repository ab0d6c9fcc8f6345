package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/sales"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists the ledger in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs the store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Inventory returns the inventory repository view.
func (p *Postgres) Inventory() *PostgresInventory { return &PostgresInventory{p: p} }

// Sales returns the sales repository view.
func (p *Postgres) Sales() *PostgresSales { return &PostgresSales{p: p} }

// Expenses returns the expense repository view.
func (p *Postgres) Expenses() *PostgresExpenses { return &PostgresExpenses{p: p} }

// PostgresInventory implements inventory.RepositoryPort.
type PostgresInventory struct{ p *Postgres }

// PostgresSales implements sales.RepositoryPort.
type PostgresSales struct{ p *Postgres }

// PostgresExpenses implements expenses.RepositoryPort.
type PostgresExpenses struct{ p *Postgres }

// withTx executes the callback inside a repeatable-read transaction.
func (p *Postgres) withTx(ctx context.Context, fn func(*pgTx) error) error {
	return mapPgError(db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	}))
}

// mapPgError turns serialization failures and deadlocks into shared.ErrConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("store: %s: %w", pgErr.Message, shared.ErrConflict)
		case "23505":
			return fmt.Errorf("store: %s: %w", pgErr.Message, shared.ErrIdempotencyConflict)
		case "23503":
			return fmt.Errorf("store: still referenced: %s: %w", pgErr.Message, shared.ErrValidation)
		}
	}
	return err
}

const productColumns = `id, name, unit_price, unit_cost, cost_basis, quantity_on_hand, unit, category, recipe,
	expense_only, visible_to_cashier, track_batches, created_at, updated_at`

func scanProduct(row pgx.Row) (inventory.Product, error) {
	var (
		p      inventory.Product
		recipe []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.UnitCost, &p.CostBasis, &p.QuantityOnHand, &p.Unit,
		&p.Category, &recipe, &p.ExpenseOnly, &p.VisibleToCashier, &p.TrackBatches, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return inventory.Product{}, err
	}
	if len(recipe) > 0 {
		if err := json.Unmarshal(recipe, &p.Recipe); err != nil {
			return inventory.Product{}, fmt.Errorf("store: decode recipe of product %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func collectProducts(rows pgx.Rows) ([]inventory.Product, error) {
	defer rows.Close()
	var out []inventory.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const batchColumns = `id, product_id, code, buying_price, selling_price, quantity_original, remaining, batch_type, created_at`

func collectBatches(rows pgx.Rows) ([]inventory.Batch, error) {
	defer rows.Close()
	var out []inventory.Batch
	for rows.Next() {
		var b inventory.Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.Code, &b.BuyingPrice, &b.SellingPrice,
			&b.QuantityOriginal, &b.Remaining, &b.Type, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetProduct returns a product.
func (r *PostgresInventory) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	p, err := scanProduct(r.p.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM pos_products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, fmt.Errorf("%w: id %d", inventory.ErrProductNotFound, id)
	}
	return p, err
}

// ListProducts lists products ordered by id.
func (r *PostgresInventory) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	rows, err := r.p.pool.Query(ctx, `SELECT `+productColumns+` FROM pos_products
		WHERE ($1 = '' OR category = $1) AND (cardinality($2::bigint[]) = 0 OR id = ANY($2))
		ORDER BY id`, filter.Category, nonNilIDs(filter.IDs))
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

// ListBatches lists batches oldest first.
func (r *PostgresInventory) ListBatches(ctx context.Context, filter inventory.BatchFilter) ([]inventory.Batch, error) {
	rows, err := r.p.pool.Query(ctx, `SELECT `+batchColumns+` FROM pos_batches
		WHERE ($1 = 0 OR product_id = $1) AND (NOT $2 OR remaining > 0)
		ORDER BY created_at, id`, filter.ProductID, filter.OpenOnly)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// ListProductions lists production records, newest first.
func (r *PostgresInventory) ListProductions(ctx context.Context, limit int) ([]inventory.ProductionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.p.pool.Query(ctx, `SELECT id, source_product_id, target_product_id, quantity_used, quantity_produced,
		waste, cost, allocations, user_id, created_at
		FROM pos_production_records ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.ProductionRecord
	for rows.Next() {
		var (
			rec   inventory.ProductionRecord
			draws []byte
		)
		if err := rows.Scan(&rec.ID, &rec.SourceProductID, &rec.TargetProductID, &rec.QuantityUsed,
			&rec.QuantityProduced, &rec.Waste, &rec.Cost, &draws, &rec.UserID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(draws, &rec.Allocations); err != nil {
			return nil, fmt.Errorf("store: decode allocations of production %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *PostgresInventory) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.p.withTx(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *PostgresSales) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.p.withTx(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

const saleColumns = `id, COALESCE(reference, ''), items, total, cogs, profit, payment_method, cashier_id, created_at`

func scanSale(row pgx.Row) (sales.Sale, error) {
	var (
		s     sales.Sale
		items []byte
	)
	if err := row.Scan(&s.ID, &s.Reference, &items, &s.Total, &s.COGS, &s.Profit, &s.PaymentMethod, &s.CashierID, &s.CreatedAt); err != nil {
		return sales.Sale{}, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return sales.Sale{}, fmt.Errorf("store: decode items of sale %d: %w", s.ID, err)
	}
	return s, nil
}

// GetSale returns a sale.
func (r *PostgresSales) GetSale(ctx context.Context, id int64) (sales.Sale, error) {
	s, err := scanSale(r.p.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM pos_sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return sales.Sale{}, fmt.Errorf("%w: id %d", sales.ErrSaleNotFound, id)
	}
	return s, err
}

// ListSales lists sales newest first.
func (r *PostgresSales) ListSales(ctx context.Context, filter sales.Filter) ([]sales.Sale, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := r.p.pool.Query(ctx, `SELECT `+saleColumns+` FROM pos_sales
		WHERE ($1 = 0 OR cashier_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, filter.CashierID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sales.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountProducts counts products.
func (r *PostgresSales) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := r.p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pos_products`).Scan(&n)
	return n, err
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *PostgresExpenses) WithTx(ctx context.Context, fn func(context.Context, expenses.TxRepository) error) error {
	return r.p.withTx(ctx, func(tx *pgTx) error { return fn(ctx, tx) })
}

// ListExpenses lists expenses newest first.
func (r *PostgresExpenses) ListExpenses(ctx context.Context, filter expenses.Filter) ([]expenses.Expense, error) {
	var automatic any
	if filter.Automatic != nil {
		automatic = *filter.Automatic
	}
	rows, err := r.p.pool.Query(ctx, `SELECT id, description, amount, category, automatic, sale_id, created_by, created_at
		FROM pos_expenses
		WHERE ($1 = '' OR category = $1)
		  AND ($2::boolean IS NULL OR automatic = $2)
		  AND ($3 = 0 OR sale_id = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at DESC, id DESC`,
		filter.Category, automatic, filter.SaleID, nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []expenses.Expense
	for rows.Next() {
		var e expenses.Expense
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.Category, &e.Automatic, &e.SaleID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// pgTx satisfies the transactional ports of every module.
type pgTx struct {
	q      querier
	locked bool
}

// LockProducts row-locks the products in id order. It may be called once per transaction.
func (t *pgTx) LockProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	if t.locked {
		return nil, fmt.Errorf("store: products already locked: %w", shared.ErrConflict)
	}
	t.locked = true
	rows, err := t.q.Query(ctx, `SELECT `+productColumns+` FROM pos_products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`, nonNilIDs(ids))
	if err != nil {
		return nil, err
	}
	list, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]inventory.Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// PeekProducts reads products without locking.
func (t *pgTx) PeekProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	rows, err := t.q.Query(ctx, `SELECT `+productColumns+` FROM pos_products WHERE id = ANY($1)`, nonNilIDs(ids))
	if err != nil {
		return nil, err
	}
	list, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]inventory.Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p inventory.Product) error {
	recipe, err := encodeRecipe(p.Recipe)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `UPDATE pos_products SET name = $2, unit_price = $3, unit_cost = $4, cost_basis = $5,
		quantity_on_hand = $6, unit = $7, category = $8, recipe = $9, expense_only = $10, visible_to_cashier = $11,
		track_batches = $12, updated_at = $13 WHERE id = $1`,
		p.ID, p.Name, p.UnitPrice, p.UnitCost, p.CostBasis, p.QuantityOnHand, p.Unit, p.Category, recipe,
		p.ExpenseOnly, p.VisibleToCashier, p.TrackBatches, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", inventory.ErrProductNotFound, p.ID)
	}
	return nil
}

func (t *pgTx) InsertProduct(ctx context.Context, p inventory.Product) (int64, error) {
	recipe, err := encodeRecipe(p.Recipe)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.q.QueryRow(ctx, `INSERT INTO pos_products (name, unit_price, unit_cost, cost_basis, quantity_on_hand, unit,
		category, recipe, expense_only, visible_to_cashier, track_batches, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		p.Name, p.UnitPrice, p.UnitCost, p.CostBasis, p.QuantityOnHand, p.Unit, p.Category, recipe,
		p.ExpenseOnly, p.VisibleToCashier, p.TrackBatches, p.CreatedAt, p.UpdatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM pos_batches WHERE product_id = $1 AND remaining = 0`, id); err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM pos_products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", inventory.ErrProductNotFound, id)
	}
	return nil
}

func (t *pgTx) RecipeUsers(ctx context.Context, ingredientID int64) ([]int64, error) {
	contains, err := json.Marshal([]map[string]int64{{"ingredient_id": ingredientID}})
	if err != nil {
		return nil, err
	}
	rows, err := t.q.Query(ctx, `SELECT id FROM pos_products WHERE recipe @> $1::jsonb ORDER BY id`, string(contains))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *pgTx) ListOpenBatches(ctx context.Context, productID int64) ([]inventory.Batch, error) {
	rows, err := t.q.Query(ctx, `SELECT `+batchColumns+` FROM pos_batches
		WHERE product_id = $1 AND remaining > 0 ORDER BY created_at, id`, productID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (t *pgTx) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `UPDATE pos_batches SET remaining = $2 WHERE id = $1`, batchID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: batch %d: %w", batchID, shared.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertBatch(ctx context.Context, b inventory.Batch) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO pos_batches (product_id, code, buying_price, selling_price, quantity_original,
		remaining, batch_type, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		b.ProductID, b.Code, b.BuyingPrice, b.SellingPrice, b.QuantityOriginal, b.Remaining, string(b.Type), b.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) InsertProduction(ctx context.Context, rec inventory.ProductionRecord) (int64, error) {
	draws, err := json.Marshal(nonNilDraws(rec.Allocations))
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.q.QueryRow(ctx, `INSERT INTO pos_production_records (source_product_id, target_product_id, quantity_used,
		quantity_produced, waste, cost, allocations, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		rec.SourceProductID, rec.TargetProductID, rec.QuantityUsed, rec.QuantityProduced, rec.Waste, rec.Cost,
		draws, rec.UserID, rec.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) InsertSale(ctx context.Context, s sales.Sale) (int64, error) {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return 0, err
	}
	var reference any
	if s.Reference != "" {
		reference = s.Reference
	}
	var id int64
	err = t.q.QueryRow(ctx, `INSERT INTO pos_sales (reference, items, total, cogs, profit, payment_method, cashier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		reference, items, s.Total, s.COGS, s.Profit, s.PaymentMethod, s.CashierID, s.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) InsertExpense(ctx context.Context, e expenses.Expense) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO pos_expenses (description, amount, category, automatic, sale_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.Description, e.Amount, e.Category, e.Automatic, e.SaleID, e.CreatedBy, e.CreatedAt).Scan(&id)
	return id, err
}

func encodeRecipe(lines []inventory.RecipeLine) ([]byte, error) {
	if lines == nil {
		lines = []inventory.RecipeLine{}
	}
	return json.Marshal(lines)
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilDraws(draws []inventory.BatchDraw) []inventory.BatchDraw {
	if draws == nil {
		return []inventory.BatchDraw{}
	}
	return draws
}
