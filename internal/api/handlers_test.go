package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store/mocks"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/example/warehouse-fulfillment/internal/query"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter() http.Handler {
	ms := mocks.NewMockStore()
	logger := zap.NewNop()
	engine := pricing.NewEngine(logger)
	inv := inventory.NewLedger(engine, logger)
	tasks := task.NewLedger(inv, logger)
	acceptances := acceptance.NewWorkflow(inv, tasks, logger)
	postings := posting.NewWorkflow(inv, tasks, logger)
	discounts := discount.NewWorkflow(engine, logger)

	cmdHandler := command.NewHandler(ms, inv, tasks, acceptances, postings, discounts, logger)
	queryHandler := query.NewHandler(ms, inv, tasks, acceptances, postings, discounts)
	return NewRouter(NewHandlers(cmdHandler, queryHandler, logger), logger)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// acceptUnits posts an acceptance of count valid units and prices the SKU.
func acceptUnits(t *testing.T, router http.Handler, count int, price string) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	skuID := uuid.New()
	rec := do(t, router, http.MethodPost, "/acceptances", command.CreateAcceptance{
		Lines: []command.AcceptanceLine{{SkuID: skuID, Stock: model.StockValid, Count: count}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeBody[model.Acceptance](t, rec)

	rec = do(t, router, http.MethodPut, "/skus/"+skuID.String()+"/price", map[string]string{"price": price})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ids := make([]uuid.UUID, 0, len(a.Tasks))
	for _, tk := range a.Tasks {
		ids = append(ids, tk.TargetItemID)
	}
	return skuID, ids
}

// ============================================
// Routing Tests
// ============================================

func TestHealth(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestInvalidID(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodGet, "/postings/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, string(apperr.CategoryValidation), body["kind"])
}

func TestInvalidBody(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/postings", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodDelete, "/postings", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ============================================
// Posting Flow Tests
// ============================================

func TestPostingLifecycle(t *testing.T) {
	router := newTestRouter()
	skuID, ids := acceptUnits(t, router, 2, "10.00")

	rec := do(t, router, http.MethodPost, "/postings", command.CreatePosting{
		OrderLines: []command.OrderLine{{SkuID: skuID, FromValidIDs: ids}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[model.Posting](t, rec)
	assert.True(t, decimal.RequireFromString("20.00").Equal(p.Cost))
	require.Len(t, p.Tasks, 2)

	rec = do(t, router, http.MethodPost, "/postings/"+p.ID.String()+"/send", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CategoryInvalidState), decodeBody[map[string]string](t, rec)["kind"])

	for _, tk := range p.Tasks {
		rec = do(t, router, http.MethodPost, "/tasks/"+tk.ID.String()+"/finish", map[string]string{"status": "completed"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/postings/"+p.ID.String()+"/send", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.PostingSent, decodeBody[model.Posting](t, rec).Status)

	rec = do(t, router, http.MethodPost, "/postings/"+p.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/postings/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[model.Posting](t, rec)
	assert.Equal(t, model.PostingSent, got.Status)
	assert.Len(t, got.OrderLines, 1)
}

func TestCancelPosting(t *testing.T) {
	router := newTestRouter()
	skuID, ids := acceptUnits(t, router, 1, "10.00")
	rec := do(t, router, http.MethodPost, "/postings", command.CreatePosting{
		OrderLines: []command.OrderLine{{SkuID: skuID, FromValidIDs: ids}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[model.Posting](t, rec)

	rec = do(t, router, http.MethodPost, "/postings/"+p.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/items/"+ids[0].String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[model.Item](t, rec).Reserved)
}

func TestGetPosting_NotFound(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodGet, "/postings/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// Task, Item And SKU Tests
// ============================================

func TestFinishTask_InvalidStatus(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/tasks/"+uuid.NewString()+"/finish", map[string]string{"status": "in_work"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinishTask_Terminal(t *testing.T) {
	router := newTestRouter()
	skuID := uuid.New()
	rec := do(t, router, http.MethodPost, "/acceptances", command.CreateAcceptance{
		Lines: []command.AcceptanceLine{{SkuID: skuID, Stock: model.StockDefect, Count: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeBody[model.Acceptance](t, rec).Tasks[0].ID

	rec = do(t, router, http.MethodPost, "/tasks/"+taskID.String()+"/finish", map[string]string{"status": "canceled"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/tasks/"+taskID.String()+"/finish", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CategoryInvalidTransition), decodeBody[map[string]string](t, rec)["kind"])

	rec = do(t, router, http.MethodGet, "/tasks/"+taskID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.TaskCanceled, decodeBody[model.Task](t, rec).Status)
}

func TestMarkdownAndDiscountPricing(t *testing.T) {
	router := newTestRouter()
	skuID, ids := acceptUnits(t, router, 2, "100.00")

	rec := do(t, router, http.MethodPost, "/discounts", command.CreateDiscount{SkuIDs: []uuid.UUID{skuID}, Percentage: 20})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decodeBody[model.Discount](t, rec)

	rec = do(t, router, http.MethodPost, "/items/"+ids[0].String()+"/markdown", map[string]int{"percentage": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/skus/"+skuID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.RequireFromString("70.00").Equal(decodeBody[model.Sku](t, rec).ActualPrice))

	rec = do(t, router, http.MethodPost, "/discounts/"+d.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/discounts/"+d.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DiscountFinished, decodeBody[model.Discount](t, rec).Status)

	rec = do(t, router, http.MethodGet, "/skus/"+skuID.String()+"/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decodeBody[query.SkuStockReadModel](t, rec)
	assert.Equal(t, 1, stock.Defect)
	assert.Equal(t, 2, stock.Available)
}

func TestCreateDiscountDefaultPercentage(t *testing.T) {
	router := newTestRouter()
	skuID, _ := acceptUnits(t, router, 1, "100.00")

	rec := do(t, router, http.MethodPost, "/discounts", map[string]any{"sku_ids": []uuid.UUID{skuID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 10, decodeBody[model.Discount](t, rec).Percentage)

	rec = do(t, router, http.MethodGet, "/skus/"+skuID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.RequireFromString("90.00").Equal(decodeBody[model.Sku](t, rec).ActualPrice))

	rec = do(t, router, http.MethodPost, "/discounts", map[string]any{"sku_ids": []uuid.UUID{skuID}, "percentage": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveToNotFound(t *testing.T) {
	router := newTestRouter()
	_, ids := acceptUnits(t, router, 1, "5.00")

	rec := do(t, router, http.MethodPost, "/items/"+ids[0].String()+"/not-found", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[command.ItemChange](t, rec)
	assert.True(t, res.Changed)
	assert.Equal(t, model.StockNotFound, res.Item.Stock)
}

func TestToggleHidden(t *testing.T) {
	router := newTestRouter()
	skuID, _ := acceptUnits(t, router, 1, "5.00")

	rec := do(t, router, http.MethodPut, "/skus/"+skuID.String()+"/hidden", map[string]bool{"hidden": true})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[model.Sku](t, rec).IsHidden)
}

// ============================================
// Error Mapping Tests
// ============================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("posting %w", apperr.ErrNotFound), http.StatusNotFound},
		{apperr.ErrInvalidState, http.StatusConflict},
		{apperr.ErrConflict, http.StatusConflict},
		{apperr.ErrInvalidTransition, http.StatusConflict},
		{apperr.ErrValidation, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
