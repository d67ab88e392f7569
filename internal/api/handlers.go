package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/example/warehouse-fulfillment/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Acceptance Handlers

func (h *Handlers) CreateAcceptance(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateAcceptance
	if !h.decode(w, r, &cmd) {
		return
	}

	a, err := h.cmdHandler.CreateAcceptance(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (h *Handlers) GetAcceptance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.queryHandler.GetAcceptance(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Posting Handlers

func (h *Handlers) CreatePosting(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreatePosting
	if !h.decode(w, r, &cmd) {
		return
	}

	p, err := h.cmdHandler.CreatePosting(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetPosting(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.queryHandler.GetPosting(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) SendPosting(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.cmdHandler.SendPosting(r.Context(), command.SendPosting{PostingID: id})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CancelPosting(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.cmdHandler.CancelPosting(r.Context(), command.CancelPosting{PostingID: id})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Task Handlers

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.queryHandler.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handlers) FinishTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status model.TaskStatus `json:"status"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.cmdHandler.FinishTask(r.Context(), command.FinishTask{TaskID: id, Status: req.Status})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Item Handlers

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	it, err := h.queryHandler.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

func (h *Handlers) MarkdownItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Percentage int `json:"percentage"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.cmdHandler.MarkdownItem(r.Context(), command.MarkdownItem{ItemID: id, Percentage: req.Percentage})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) MoveToNotFound(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.cmdHandler.MoveToNotFound(r.Context(), command.MoveToNotFound{ItemID: id})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// SKU Handlers

func (h *Handlers) GetSku(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sku, err := h.queryHandler.GetSku(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sku)
}

func (h *Handlers) ListItemsBySku(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rm, err := h.queryHandler.ListItemsBySku(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rm)
}

func (h *Handlers) SetSkuPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sku, err := h.cmdHandler.SetSkuPrice(r.Context(), command.SetSkuPrice{SkuID: id, Price: req.Price})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sku)
}

func (h *Handlers) ToggleHidden(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Hidden bool `json:"hidden"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	sku, err := h.cmdHandler.ToggleHidden(r.Context(), command.ToggleHidden{SkuID: id, Hidden: req.Hidden})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sku)
}

// Discount Handlers

func (h *Handlers) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SkuIDs     []uuid.UUID `json:"sku_ids"`
		Percentage *int        `json:"percentage"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	cmd := command.CreateDiscount{SkuIDs: req.SkuIDs, Percentage: discount.DefaultPercentage}
	if req.Percentage != nil {
		cmd.Percentage = *req.Percentage
	}

	d, err := h.cmdHandler.CreateDiscount(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (h *Handlers) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	d, err := h.queryHandler.GetDiscount(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *Handlers) CancelDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	d, err := h.cmdHandler.CancelDiscount(r.Context(), command.CancelDiscount{DiscountID: id})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.CategoryNotFound:
		return http.StatusNotFound
	case apperr.CategoryInvalidState, apperr.CategoryConflict, apperr.CategoryInvalidTransition:
		return http.StatusConflict
	case apperr.CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	respondJSON(w, status, map[string]string{
		"error": msg,
		"kind":  string(apperr.Kind(err)),
	})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, fmt.Errorf("%w: invalid body: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: invalid id %q", apperr.ErrValidation, chi.URLParam(r, "id")))
		return uuid.Nil, false
	}
	return id, true
}
