package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog, batch intake, production and estimates.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	listener StockListener
	cache    *Cache
	warnings WarningRecorder
	logger   *slog.Logger
	allowNeg bool
	clock    func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Cache              *Cache
	Warnings           WarningRecorder
	Logger             *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, listener StockListener) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		listener: listener,
		cache:    cfg.Cache,
		warnings: cfg.Warnings,
		logger:   logger,
		allowNeg: cfg.AllowNegativeStock,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateProduct registers a product with its opening stock valued at unit cost.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	if err := s.validateProduct(ctx, 0, input); err != nil {
		return Product{}, err
	}
	if input.Quantity.IsNegative() {
		return Product{}, validationError("opening quantity must be >= 0")
	}
	now := s.clock()
	product := Product{
		Name:             strings.TrimSpace(input.Name),
		UnitPrice:        input.UnitPrice,
		UnitCost:         input.UnitCost,
		CostBasis:        input.UnitCost.Mul(input.Quantity),
		QuantityOnHand:   input.Quantity,
		Unit:             normaliseUnit(input.Unit),
		Category:         normaliseCategory(input.Category),
		Recipe:           input.Recipe,
		ExpenseOnly:      input.ExpenseOnly,
		VisibleToCashier: input.VisibleToCashier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, input.ActorID, "inventory:product_created", "product", product.ID, map[string]any{
		"name":     product.Name,
		"quantity": product.QuantityOnHand.String(),
	})
	s.notify(ctx, "product", product.ID)
	return product, nil
}

// UpdateProduct changes catalog fields. Stock and cost basis only move through
// batches, sales and production.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	if id <= 0 {
		return Product{}, ErrProductNotFound
	}
	if err := s.validateProduct(ctx, id, input); err != nil {
		return Product{}, err
	}
	var updated Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []int64{id})
		if err != nil {
			return err
		}
		product, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		product.Name = strings.TrimSpace(input.Name)
		product.UnitPrice = input.UnitPrice
		product.UnitCost = input.UnitCost
		product.Unit = normaliseUnit(input.Unit)
		product.Category = normaliseCategory(input.Category)
		product.Recipe = input.Recipe
		product.ExpenseOnly = input.ExpenseOnly
		product.VisibleToCashier = input.VisibleToCashier
		product.UpdatedAt = s.clock()
		updated = product
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, input.ActorID, "inventory:product_updated", "product", id, map[string]any{"name": updated.Name})
	s.notify(ctx, "product", id)
	return updated, nil
}

// DeleteProduct removes a product from the catalog. Products still used by a
// recipe or holding open batches stay.
func (s *Service) DeleteProduct(ctx context.Context, id, actorID int64) error {
	if id <= 0 {
		return ErrProductNotFound
	}
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []int64{id})
		if err != nil {
			return err
		}
		product, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
		}
		users, err := tx.RecipeUsers(ctx, id)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return validationError("%s is an ingredient of product %d", product.Name, users[0])
		}
		open, err := tx.ListOpenBatches(ctx, id)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return validationError("%s still has %d open batches", product.Name, len(open))
		}
		name = product.Name
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "inventory:product_deleted", "product", id, map[string]any{"name": name})
	s.notify(ctx, "product", id)
	return nil
}

// GetProduct fetches a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts lists the catalog as seen by the actor.
func (s *Service) ListProducts(ctx context.Context, actor shared.Actor, filter ProductFilter) ([]Product, error) {
	if strings.TrimSpace(filter.Category) != "" {
		filter.Category = normaliseCategory(filter.Category)
	}
	products, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	visible := products[:0]
	for _, p := range products {
		if p.VisibleTo(actor) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// ReceiveBatch books a new lot into the batch ledger and the product stock.
func (s *Service) ReceiveBatch(ctx context.Context, input BatchInput) (Batch, error) {
	if input.ProductID <= 0 {
		return Batch{}, validationError("product required")
	}
	if !input.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	if input.BuyingPrice.IsNegative() || input.SellingPrice.IsNegative() {
		return Batch{}, ErrInvalidUnitCost
	}
	batchType := input.Type
	switch batchType {
	case "":
		batchType = BatchTypeNew
	case BatchTypeNew, BatchTypeReturned:
	default:
		return Batch{}, validationError("unsupported batch type %q", batchType)
	}
	now := s.clock()
	code := strings.TrimSpace(input.Code)
	if code == "" {
		code = fmt.Sprintf("BATCH-%d", now.UnixNano())
	}
	batch := Batch{
		ProductID:        input.ProductID,
		Code:             code,
		BuyingPrice:      input.BuyingPrice,
		SellingPrice:     input.SellingPrice,
		QuantityOriginal: input.Quantity,
		Remaining:        input.Quantity,
		Type:             batchType,
		CreatedAt:        now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []int64{input.ProductID})
		if err != nil {
			return err
		}
		product, ok := locked[input.ProductID]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrProductNotFound, input.ProductID)
		}
		if err := trackBatches(ctx, tx, &product, now); err != nil {
			return err
		}
		if err := Receive(&product, input.Quantity, input.BuyingPrice); err != nil {
			return err
		}
		product.UpdatedAt = now
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return err
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, input.ActorID, "inventory:batch_received", "batch", batch.ID, map[string]any{
		"product_id": batch.ProductID,
		"qty":        batch.QuantityOriginal.String(),
		"code":       batch.Code,
	})
	s.notify(ctx, "batch", batch.ProductID)
	return batch, nil
}

// trackBatches switches the product to the batch ledger. Stock held before the
// first batch is booked as an opening batch so quantity on hand and open
// batches agree from the start.
func trackBatches(ctx context.Context, tx TxRepository, p *Product, now time.Time) error {
	if p.TrackBatches {
		return nil
	}
	p.TrackBatches = true
	if !p.QuantityOnHand.IsPositive() {
		return nil
	}
	_, err := tx.InsertBatch(ctx, Batch{
		ProductID:        p.ID,
		Code:             fmt.Sprintf("OPEN-%d", p.ID),
		BuyingPrice:      AverageUnitCost(*p),
		SellingPrice:     p.UnitPrice,
		QuantityOriginal: p.QuantityOnHand,
		Remaining:        p.QuantityOnHand,
		Type:             BatchTypeOpening,
		CreatedAt:        now,
	})
	return err
}

// ListBatches lists batches, oldest first.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// ListBatchesFor lists the batches of the products the actor may see.
func (s *Service) ListBatchesFor(ctx context.Context, actor shared.Actor, filter BatchFilter) ([]Batch, error) {
	batches, err := s.repo.ListBatches(ctx, filter)
	if err != nil || !actor.IsCashier() || len(batches) == 0 {
		return batches, err
	}
	productFilter := ProductFilter{}
	if filter.ProductID != 0 {
		productFilter.IDs = []int64{filter.ProductID}
	}
	products, err := s.repo.ListProducts(ctx, productFilter)
	if err != nil {
		return nil, err
	}
	visible := make(map[int64]bool, len(products))
	for _, p := range products {
		visible[p.ID] = p.VisibleTo(actor)
	}
	out := batches[:0]
	for _, b := range batches {
		if visible[b.ProductID] {
			out = append(out, b)
		}
	}
	return out, nil
}

// RecordProduction converts source stock into target stock. The source is drawn
// at average cost, and from its batches oldest first when it is batch tracked;
// the consumed cost becomes the cost basis of the produced units.
func (s *Service) RecordProduction(ctx context.Context, input ProductionInput) (ProductionResult, error) {
	if err := validateProduction(input); err != nil {
		return ProductionResult{}, err
	}
	now := s.clock()
	var result ProductionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []int64{input.SourceProductID, input.TargetProductID})
		if err != nil {
			return err
		}
		source, ok := locked[input.SourceProductID]
		if !ok {
			return fmt.Errorf("%w: source id %d", ErrProductNotFound, input.SourceProductID)
		}
		target, ok := locked[input.TargetProductID]
		if !ok {
			return fmt.Errorf("%w: target id %d", ErrProductNotFound, input.TargetProductID)
		}

		consumption, err := Consume(&source, input.QuantityUsed, s.allowNeg)
		if err != nil {
			return err
		}
		var alloc Allocation
		if source.TrackBatches {
			alloc, err = DrainBatches(ctx, tx, source.ID, input.QuantityUsed)
			if err != nil {
				return err
			}
		}
		result.Warnings = nil
		if warning, ok := alloc.Warning(source.ID); ok {
			result.Warnings = append(result.Warnings, warning)
		}
		source.UpdatedAt = now
		if err := tx.UpdateProduct(ctx, source); err != nil {
			return err
		}

		if input.QuantityProduced.IsPositive() {
			if err := trackBatches(ctx, tx, &target, now); err != nil {
				return err
			}
			if err := ReceiveValue(&target, input.QuantityProduced, consumption.Cost); err != nil {
				return err
			}
			unitCost := target.UnitCost
			target.UpdatedAt = now
			if err := tx.UpdateProduct(ctx, target); err != nil {
				return err
			}
			if _, err := tx.InsertBatch(ctx, Batch{
				ProductID:        target.ID,
				Code:             fmt.Sprintf("PRD-%d", now.UnixNano()),
				BuyingPrice:      unitCost,
				SellingPrice:     target.UnitPrice,
				QuantityOriginal: input.QuantityProduced,
				Remaining:        input.QuantityProduced,
				Type:             BatchTypeProduced,
				CreatedAt:        now,
			}); err != nil {
				return err
			}
		}

		record := ProductionRecord{
			SourceProductID:  input.SourceProductID,
			TargetProductID:  input.TargetProductID,
			QuantityUsed:     input.QuantityUsed,
			QuantityProduced: input.QuantityProduced,
			Waste:            input.Waste,
			Cost:             consumption.Cost,
			Allocations:      alloc.Draws,
			UserID:           input.UserID,
			CreatedAt:        now,
		}
		id, err := tx.InsertProduction(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		result.Record = record
		return nil
	})
	if err != nil {
		return ProductionResult{}, err
	}
	for _, w := range result.Warnings {
		s.logger.WarnContext(ctx, "production under-allocated",
			slog.Int64("production_id", result.Record.ID),
			slog.Int64("product_id", w.ProductID),
			slog.String("shortfall", w.Shortfall.String()))
	}
	if s.warnings != nil && len(result.Warnings) > 0 {
		s.warnings.RecordUnderAllocation("production", len(result.Warnings))
	}
	s.record(ctx, input.UserID, "inventory:production", "production", result.Record.ID, map[string]any{
		"source_id":         input.SourceProductID,
		"target_id":         input.TargetProductID,
		"quantity_used":     input.QuantityUsed.String(),
		"quantity_produced": input.QuantityProduced.String(),
		"waste":             input.Waste.String(),
		"cost":              result.Record.Cost.String(),
	})
	s.notify(ctx, "production", input.SourceProductID, input.TargetProductID)
	return result, nil
}

// ListProductions returns the most recent production records.
func (s *Service) ListProductions(ctx context.Context, limit int) ([]ProductionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListProductions(ctx, limit)
}

// EstimateMaxProducible answers how many units of the product the current
// ingredient stock allows.
func (s *Service) EstimateMaxProducible(ctx context.Context, productID int64) (Producibility, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Producibility{}, err
	}
	if !product.IsComposite() {
		return MaxProducible(product, nil), nil
	}
	return s.cache.Producibility(ctx, productID, func(ctx context.Context) (Producibility, error) {
		ingredients, err := s.repo.ListProducts(ctx, ProductFilter{IDs: IngredientIDs(product)})
		if err != nil {
			return Producibility{}, err
		}
		byID := make(map[int64]Product, len(ingredients))
		for _, ing := range ingredients {
			byID[ing.ID] = ing
		}
		return MaxProducible(product, byID), nil
	})
}

func (s *Service) validateProduct(ctx context.Context, id int64, input ProductInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return validationError("product name is required")
	}
	if input.UnitPrice.IsNegative() {
		return validationError("unit price must be >= 0")
	}
	if input.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	seen := make(map[int64]struct{}, len(input.Recipe))
	for i, line := range input.Recipe {
		if line.IngredientID <= 0 {
			return validationError("recipe line %d: ingredient required", i+1)
		}
		if id != 0 && line.IngredientID == id {
			return validationError("recipe line %d: product cannot use itself", i+1)
		}
		if !line.QuantityPerUnit.IsPositive() {
			return validationError("recipe line %d: quantity per unit must be positive", i+1)
		}
		if _, dup := seen[line.IngredientID]; dup {
			return validationError("recipe line %d: ingredient %d listed twice", i+1, line.IngredientID)
		}
		seen[line.IngredientID] = struct{}{}
		if _, err := s.repo.GetProduct(ctx, line.IngredientID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return validationError("recipe line %d: ingredient %d does not exist", i+1, line.IngredientID)
			}
			return err
		}
	}
	return nil
}

func validateProduction(input ProductionInput) error {
	if input.SourceProductID <= 0 || input.TargetProductID <= 0 {
		return validationError("source and target product required")
	}
	if input.SourceProductID == input.TargetProductID {
		return validationError("source and target product must differ")
	}
	if !input.QuantityUsed.IsPositive() {
		return ErrInvalidQuantity
	}
	if input.QuantityProduced.IsNegative() {
		return validationError("quantity produced must be >= 0")
	}
	if input.Waste.IsNegative() {
		return validationError("waste must be >= 0")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, source string, ids ...int64) {
	if s.listener == nil {
		return
	}
	evt := StockChangedEvent{Source: source, ProductIDs: ids, At: s.clock()}
	if err := s.listener.HandleStockChanged(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "stock listener failed", slog.String("source", source), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}

const (
	defaultCategory = "raw"
	defaultUnit     = "pcs"
)

func normaliseCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return defaultCategory
	}
	return cases.Fold().String(category)
}

func normaliseUnit(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return defaultUnit
	}
	return unit
}
