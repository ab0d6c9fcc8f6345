package sales

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// IdempotencyHeader carries the client reference of a checkout.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes sale endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sale and reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.list)
	r.Post("/sales", h.settle)
	r.Get("/sales/{id}", h.get)
	r.With(requireBackOffice).Get("/sales/export.xlsx", h.export)
	r.With(requireBackOffice).Get("/stats", h.stats)
}

type settleRequest struct {
	Items         []Item           `json:"items" validate:"required,min=1,dive"`
	Total         *decimal.Decimal `json:"total" validate:"required"`
	PaymentMethod string           `json:"payment_method" validate:"max=32"`
	Reference     string           `json:"reference"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reference := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if reference == "" {
		reference = strings.TrimSpace(req.Reference)
	}
	if reference != "" {
		if _, err := uuid.Parse(reference); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reference must be a UUID")
			return
		}
	}
	actor, _ := shared.ActorFromContext(r.Context())
	result, err := h.service.SettleSale(r.Context(), SettleInput{
		Items:         req.Items,
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		CashierID:     actor.UserID,
		Reference:     reference,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "settle sale failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if actor.IsCashier() && sale.CashierID != actor.UserID {
		httpx.RespondError(w, ErrSaleNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if actor, _ := shared.ActorFromContext(r.Context()); actor.IsCashier() {
		filter.CashierID = actor.UserID
	}
	list, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list sales failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	buf := &bytes.Buffer{}
	if err := h.service.ExportXLSX(r.Context(), filter, buf); err != nil {
		h.logger.ErrorContext(r.Context(), "export sales failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	name := fmt.Sprintf("sales_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), time.Now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sales summary failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var filter Filter
	if raw := q.Get("cashier_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Filter{}, validationError("invalid cashier_id")
		}
		filter.CashierID = id
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Filter{}, validationError("invalid from date")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Filter{}, validationError("invalid to date")
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return Filter{}, validationError("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func requireBackOffice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, _ := shared.ActorFromContext(r.Context()); actor.IsCashier() {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
