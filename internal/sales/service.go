package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/expenses"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	idempotencyModule = "sales"

	defaultConflictRetries = 3
	conflictBackoff        = 15 * time.Millisecond
)

// Recorder receives settlement telemetry.
type Recorder interface {
	inventory.WarningRecorder
	ObserveSettlement(outcome string, elapsed time.Duration)
}

// Service settles sales against the stock ledger.
type Service struct {
	repo     RepositoryPort
	expenses ExpenseLister
	idem     IdempotencyPort
	audit    AuditPort
	listener inventory.StockListener
	metrics  Recorder
	logger   *slog.Logger
	allowNeg bool
	retries  int
	clock    func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	AllowNegativeStock bool
	Idempotency        IdempotencyPort
	Audit              AuditPort
	Listener           inventory.StockListener
	Metrics            Recorder
	Logger             *slog.Logger
	// ConflictRetries bounds how often a settlement aborted by a concurrent
	// writer is run again. Zero means the default, negative disables retries.
	ConflictRetries int
}

// NewService builds Service.
func NewService(repo RepositoryPort, expenseLister ExpenseLister, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.ConflictRetries
	switch {
	case retries == 0:
		retries = defaultConflictRetries
	case retries < 0:
		retries = 0
	}
	return &Service{
		repo:     repo,
		expenses: expenseLister,
		idem:     cfg.Idempotency,
		audit:    cfg.Audit,
		listener: cfg.Listener,
		metrics:  cfg.Metrics,
		logger:   logger,
		allowNeg: cfg.AllowNegativeStock,
		retries:  retries,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SettleSale consumes stock for every item and persists the sale together with
// its automatic expenses in one transaction.
func (s *Service) SettleSale(ctx context.Context, input SettleInput) (Settlement, error) {
	started := time.Now()
	result, err := s.settle(ctx, input)
	if s.metrics != nil {
		s.metrics.ObserveSettlement(outcome(err), time.Since(started))
	}
	return result, err
}

func (s *Service) settle(ctx context.Context, input SettleInput) (settlement Settlement, err error) {
	if err := validateSettle(input); err != nil {
		return Settlement{}, err
	}
	reference := strings.TrimSpace(input.Reference)
	if reference != "" && s.idem != nil {
		key := "sale:" + reference
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Settlement{}, fmt.Errorf("%w: %s", ErrDuplicateSale, reference)
			}
			return Settlement{}, err
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.WarnContext(ctx, "release sale reference failed", slog.String("reference", reference), slog.Any("error", delErr))
			}
		}()
	}

	method := strings.TrimSpace(input.PaymentMethod)
	if method == "" {
		method = DefaultPaymentMethod
	}
	total := *input.Total
	now := s.clock()

	var (
		touched  []int64
		expected decimal.Decimal
	)
	err = s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		p := newPlan(s.allowNeg)
		if err := p.lock(ctx, tx, input.Items); err != nil {
			return err
		}
		for i, item := range input.Items {
			if err := p.consumeItem(i, item); err != nil {
				return err
			}
		}

		var warnings []inventory.UnderAllocationWarning
		for _, id := range p.order {
			product := p.locked[id]
			product.UpdatedAt = now
			if err := tx.UpdateProduct(ctx, product); err != nil {
				return err
			}
			if !product.TrackBatches {
				continue
			}
			alloc, err := inventory.DrainBatches(ctx, tx, id, p.drawn[id])
			if err != nil {
				return err
			}
			if w, ok := alloc.Warning(id); ok {
				warnings = append(warnings, w)
			}
		}

		sale := Sale{
			Reference:     reference,
			Items:         slices.Clone(input.Items),
			Total:         total,
			COGS:          p.cogs,
			Profit:        total.Sub(p.cogs),
			PaymentMethod: method,
			CashierID:     input.CashierID,
			CreatedAt:     now,
		}
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID

		booked := make([]expenses.Expense, 0, len(p.expenses))
		for _, e := range p.expenses {
			e.SaleID = &saleID
			e.CreatedBy = input.CashierID
			e.CreatedAt = now
			id, err := tx.InsertExpense(ctx, e)
			if err != nil {
				return err
			}
			e.ID = id
			booked = append(booked, e)
		}

		settlement = Settlement{Sale: sale, Expenses: booked, Consumptions: p.consumptions, Warnings: warnings}
		touched = p.order
		expected = p.listed
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	s.afterCommit(ctx, settlement, touched, expected)
	return settlement, nil
}

// withRetry runs fn in a transaction and runs it again, up to s.retries times,
// when the store aborts it with shared.ErrConflict. Every attempt starts from a
// fresh snapshot, so a retried settlement sees the winner's writes.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	for attempt := 0; ; attempt++ {
		err := s.repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, shared.ErrConflict) || attempt >= s.retries {
			return err
		}
		s.logger.DebugContext(ctx, "settlement conflict, retrying", slog.Int("attempt", attempt+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * conflictBackoff):
		}
	}
}

func (s *Service) afterCommit(ctx context.Context, settlement Settlement, touched []int64, expected decimal.Decimal) {
	sale := settlement.Sale
	if !sale.Total.Equal(expected) {
		s.logger.WarnContext(ctx, "sale total deviates from list prices",
			slog.Int64("sale_id", sale.ID),
			slog.String("total", sale.Total.String()),
			slog.String("expected", expected.String()))
	}
	for _, w := range settlement.Warnings {
		s.logger.WarnContext(ctx, "sale under-allocated batches",
			slog.Int64("sale_id", sale.ID),
			slog.Int64("product_id", w.ProductID),
			slog.String("shortfall", w.Shortfall.String()))
	}
	if s.metrics != nil && len(settlement.Warnings) > 0 {
		s.metrics.RecordUnderAllocation("sale", len(settlement.Warnings))
	}
	if s.listener != nil {
		evt := inventory.StockChangedEvent{Source: "sale", ProductIDs: touched, At: sale.CreatedAt}
		if err := s.listener.HandleStockChanged(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "stock listener failed", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  sale.CashierID,
			Action:   "sales:settle",
			Entity:   "sale",
			EntityID: fmt.Sprintf("%d", sale.ID),
			Meta: map[string]any{
				"total":    sale.Total.String(),
				"cogs":     sale.COGS.String(),
				"items":    len(sale.Items),
				"expenses": len(settlement.Expenses),
			},
		})
	}
	s.logger.InfoContext(ctx, "sale settled",
		slog.Int64("sale_id", sale.ID),
		slog.String("total", sale.Total.String()),
		slog.String("cogs", sale.COGS.String()))
}

// GetSale fetches a sale by id.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales lists sales, newest first.
func (s *Service) ListSales(ctx context.Context, filter Filter) ([]Sale, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.ListSales(ctx, filter)
}

func validateSettle(input SettleInput) error {
	if len(input.Items) == 0 {
		return validationError("at least one item is required")
	}
	if input.Total == nil {
		return validationError("total is required")
	}
	if input.Total.IsNegative() {
		return validationError("total must be >= 0")
	}
	for i, item := range input.Items {
		if item.ProductID <= 0 {
			return validationError("item %d: product required", i+1)
		}
		if !item.Quantity.IsPositive() {
			return validationError("item %d: quantity must be positive", i+1)
		}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "duplicate"
	case errors.Is(err, shared.ErrValidation):
		return "rejected"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
