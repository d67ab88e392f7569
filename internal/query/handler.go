package query

import (
	"context"
	"fmt"

	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
)

// Handler serves reads. Every call runs in its own short transaction so a
// multi-table view is consistent.
type Handler struct {
	store       store.Store
	inventory   *inventory.Ledger
	tasks       *task.Ledger
	acceptances *acceptance.Workflow
	postings    *posting.Workflow
	discounts   *discount.Workflow
}

func NewHandler(
	st store.Store,
	inv *inventory.Ledger,
	tasks *task.Ledger,
	acceptances *acceptance.Workflow,
	postings *posting.Workflow,
	discounts *discount.Workflow,
) *Handler {
	return &Handler{
		store:       st,
		inventory:   inv,
		tasks:       tasks,
		acceptances: acceptances,
		postings:    postings,
		discounts:   discounts,
	}
}

// Postings
func (h *Handler) GetPosting(ctx context.Context, id uuid.UUID) (*model.Posting, error) {
	var p *model.Posting
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = h.postings.Get(ctx, tx, id)
		return err
	})
	return p, err
}

// Tasks
func (h *Handler) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var t *model.Task
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		t, err = h.tasks.Get(ctx, tx, id)
		return err
	})
	return t, err
}

// Items
func (h *Handler) GetItem(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	var it *model.Item
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		it, err = h.inventory.GetItem(ctx, tx, id)
		return err
	})
	return it, err
}

// SKUs
func (h *Handler) GetSku(ctx context.Context, id uuid.UUID) (*model.Sku, error) {
	var sku *model.Sku
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sku, err = h.inventory.GetSku(ctx, tx, id)
		return err
	})
	return sku, err
}

func (h *Handler) ListItemsBySku(ctx context.Context, skuID uuid.UUID) (*SkuStockReadModel, error) {
	var rm *SkuStockReadModel
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := h.inventory.GetSku(ctx, tx, skuID); err != nil {
			return err
		}
		items, err := tx.Items().ListBySku(ctx, skuID)
		if err != nil {
			return fmt.Errorf("list items of sku %s: %w", skuID, err)
		}
		rm = newSkuStock(skuID, items)
		return nil
	})
	return rm, err
}

// Acceptances
func (h *Handler) GetAcceptance(ctx context.Context, id uuid.UUID) (*model.Acceptance, error) {
	var a *model.Acceptance
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = h.acceptances.Get(ctx, tx, id)
		return err
	})
	return a, err
}

// Discounts
func (h *Handler) GetDiscount(ctx context.Context, id uuid.UUID) (*model.Discount, error) {
	var d *model.Discount
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		d, err = h.discounts.Get(ctx, tx, id)
		return err
	})
	return d, err
}
