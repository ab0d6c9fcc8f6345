package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func newHandlerRouter(t *testing.T) (*Service, http.Handler) {
	t.Helper()
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{}, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			role := req.Header.Get("X-Test-Role")
			if role == "" {
				role = shared.RoleCashier
			}
			ctx := shared.ContextWithActor(req.Context(), shared.Actor{UserID: 5, Role: role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return svc, r
}

func serve(router http.Handler, method, path, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerHidesExpenseOnlyProductsFromCashier(t *testing.T) {
	svc, router := newHandlerRouter(t)
	ctx := context.Background()
	cups := mustCreate(t, svc, ProductInput{Name: "Cups", ExpenseOnly: true, VisibleToCashier: true})
	cookie := mustCreate(t, svc, ProductInput{Name: "Cookie", VisibleToCashier: true})
	for _, id := range []int64{cups.ID, cookie.ID} {
		_, err := svc.ReceiveBatch(ctx, BatchInput{ProductID: id, Quantity: dec("10")})
		require.NoError(t, err)
	}

	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, fmt.Sprintf("/products/%d", cups.ID), "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, fmt.Sprintf("/products/%d", cups.ID), shared.RoleManager).Code)

	var batches []Batch
	rec := serve(router, http.MethodGet, "/batches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 1)
	require.Equal(t, cookie.ID, batches[0].ProductID)

	rec = serve(router, http.MethodGet, fmt.Sprintf("/batches?product_id=%d", cups.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Empty(t, batches)

	rec = serve(router, http.MethodGet, "/batches", shared.RoleAdmin)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 2)
}

func TestHandlerDeleteProduct(t *testing.T) {
	svc, router := newHandlerRouter(t)
	milk := mustCreate(t, svc, ProductInput{Name: "Milk"})
	mustCreate(t, svc, ProductInput{Name: "Latte", Recipe: []RecipeLine{{IngredientID: milk.ID, QuantityPerUnit: dec("0.2")}}})
	scone := mustCreate(t, svc, ProductInput{Name: "Scone"})

	require.Equal(t, http.StatusForbidden, serve(router, http.MethodDelete, fmt.Sprintf("/products/%d", scone.ID), "").Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodDelete, fmt.Sprintf("/products/%d", milk.ID), shared.RoleManager).Code)
	require.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, fmt.Sprintf("/products/%d", scone.ID), shared.RoleManager).Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, fmt.Sprintf("/products/%d", scone.ID), shared.RoleAdmin).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodDelete, "/products/abc", shared.RoleAdmin).Code)
}
