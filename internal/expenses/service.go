package expenses

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records and lists expenses.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Create books a manual expense.
func (s *Service) Create(ctx context.Context, input Input) (Expense, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return Expense{}, ErrDescriptionRequired
	}
	if !input.Amount.IsPositive() {
		return Expense{}, ErrInvalidAmount
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" {
		category = CategoryGeneral
	}
	expense := Expense{
		Description: description,
		Amount:      input.Amount,
		Category:    category,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   s.clock(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertExpense(ctx, expense)
		if err != nil {
			return err
		}
		expense.ID = id
		return nil
	})
	if err != nil {
		return Expense{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.CreatedBy,
			Action:   "expenses:create",
			Entity:   "expense",
			EntityID: fmt.Sprintf("%d", expense.ID),
			Meta:     map[string]any{"amount": expense.Amount.String(), "category": expense.Category},
		})
	}
	s.logger.InfoContext(ctx, "expense recorded", slog.Int64("expense_id", expense.ID), slog.String("amount", expense.Amount.String()))
	return expense, nil
}

// List returns expenses matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Expense, error) {
	return s.repo.ListExpenses(ctx, filter)
}
