package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Delete("/products/{id}", h.deleteProduct)
	r.Get("/products/{id}/max-producible", h.maxProducible)
	r.Get("/batches", h.listBatches)
	r.Post("/batches", h.receiveBatch)
	r.Get("/production", h.listProductions)
	r.Post("/production", h.recordProduction)
	r.Get("/inventory/reconcile", h.reconcile)
}

type productRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit" validate:"max=32"`
	Category         string          `json:"category" validate:"max=64"`
	Recipe           []RecipeLine    `json:"recipe" validate:"dive"`
	ExpenseOnly      bool            `json:"expense_only"`
	VisibleToCashier *bool           `json:"visible_to_cashier"`
}

func (req productRequest) input(actor shared.Actor) ProductInput {
	visible := true
	if req.VisibleToCashier != nil {
		visible = *req.VisibleToCashier
	}
	return ProductInput{
		Name:             req.Name,
		UnitPrice:        req.UnitPrice,
		UnitCost:         req.UnitCost,
		Quantity:         req.Quantity,
		Unit:             req.Unit,
		Category:         req.Category,
		Recipe:           req.Recipe,
		ExpenseOnly:      req.ExpenseOnly,
		VisibleToCashier: visible,
		ActorID:          actor.UserID,
	}
}

type batchRequest struct {
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	Code         string          `json:"batch_code" validate:"max=64"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         BatchType       `json:"type" validate:"omitempty,oneof=new returned"`
}

type productionRequest struct {
	SourceProductID  int64           `json:"source_product_id" validate:"required,gt=0"`
	TargetProductID  int64           `json:"target_product_id" validate:"required,gt=0,nefield=SourceProductID"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
	QuantityProduced decimal.Decimal `json:"quantity_produced"`
	Waste            decimal.Decimal `json:"waste"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	products, err := h.service.ListProducts(r.Context(), actor, ProductFilter{Category: r.URL.Query().Get("category")})
	if err != nil {
		h.fail(w, r, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	product, err := h.service.CreateProduct(r.Context(), req.input(actor))
	if err != nil {
		h.fail(w, r, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get product", err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if !product.VisibleTo(actor) {
		httpx.RespondError(w, ErrProductNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	product, err := h.service.UpdateProduct(r.Context(), id, req.input(actor))
	if err != nil {
		h.fail(w, r, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if actor.IsCashier() {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id, actor.UserID); err != nil {
		h.fail(w, r, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) maxProducible(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	estimate, err := h.service.EstimateMaxProducible(r.Context(), id)
	if err != nil {
		h.fail(w, r, "estimate producible", err)
		return
	}
	httpx.JSON(w, http.StatusOK, estimate)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	filter := BatchFilter{OpenOnly: r.URL.Query().Get("open") == "true"}
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product_id")
			return
		}
		filter.ProductID = id
	}
	actor, _ := shared.ActorFromContext(r.Context())
	batches, err := h.service.ListBatchesFor(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) receiveBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	batch, err := h.service.ReceiveBatch(r.Context(), BatchInput{
		ProductID:    req.ProductID,
		Code:         req.Code,
		BuyingPrice:  req.BuyingPrice,
		SellingPrice: req.SellingPrice,
		Quantity:     req.Quantity,
		Type:         req.Type,
		ActorID:      actor.UserID,
	})
	if err != nil {
		h.fail(w, r, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) listProductions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.service.ListProductions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list productions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) recordProduction(w http.ResponseWriter, r *http.Request) {
	var req productionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	result, err := h.service.RecordProduction(r.Context(), ProductionInput{
		SourceProductID:  req.SourceProductID,
		TargetProductID:  req.TargetProductID,
		QuantityUsed:     req.QuantityUsed,
		QuantityProduced: req.QuantityProduced,
		Waste:            req.Waste,
		UserID:           actor.UserID,
	})
	if err != nil {
		h.fail(w, r, "record production", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.Reconcile(r.Context())
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	if drifts == nil {
		drifts = []Drift{}
	}
	httpx.JSON(w, http.StatusOK, drifts)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
