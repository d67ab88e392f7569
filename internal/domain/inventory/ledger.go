// Package inventory owns SKUs and their physical items: stock-state
// transitions and the reservation primitives postings are built on.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrItemNotFound    = fmt.Errorf("item %w", apperr.ErrNotFound)
	ErrSkuNotFound     = pricing.ErrSkuNotFound
	ErrItemUnavailable = fmt.Errorf("item is reserved or not in stock: %w", apperr.ErrConflict)
	ErrItemMismatch    = fmt.Errorf("item does not match the requested sku and stock: %w", apperr.ErrInvalidState)
	ErrItemLost        = fmt.Errorf("item is not_found: %w", apperr.ErrInvalidTransition)
	ErrInvalidStock    = fmt.Errorf("stock must be valid or defect: %w", apperr.ErrValidation)
	ErrInvalidCount    = fmt.Errorf("count must be positive: %w", apperr.ErrValidation)
)

// validStockTransitions defines allowed stock-state transitions
var validStockTransitions = map[model.StockState][]model.StockState{
	model.StockValid:    {model.StockDefect, model.StockNotFound},
	model.StockDefect:   {model.StockNotFound},
	model.StockNotFound: {}, // terminal state
}

// CanTransition checks if an item may move from one stock state to another
func CanTransition(from, to model.StockState) bool {
	return slices.Contains(validStockTransitions[from], to)
}

type Ledger struct {
	pricing *pricing.Engine
	logger  *zap.Logger
}

func NewLedger(engine *pricing.Engine, logger *zap.Logger) *Ledger {
	return &Ledger{pricing: engine, logger: logger}
}

// ReserveUnit reserves the item if it exists, is unreserved and is not
// not_found. Losing a concurrent race yields ErrItemUnavailable.
func (l *Ledger) ReserveUnit(ctx context.Context, tx store.Tx, itemID uuid.UUID) (*model.Item, error) {
	return l.reserve(ctx, tx, itemID, store.ReserveCondition{})
}

// ReserveMatching is ReserveUnit that additionally requires the item to
// belong to skuID and be in the given stock class.
func (l *Ledger) ReserveMatching(ctx context.Context, tx store.Tx, itemID, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	return l.reserve(ctx, tx, itemID, store.ReserveCondition{
		SkuID: uuid.NullUUID{UUID: skuID, Valid: true},
		Stock: stock,
	})
}

func (l *Ledger) reserve(ctx context.Context, tx store.Tx, itemID uuid.UUID, cond store.ReserveCondition) (*model.Item, error) {
	ok, err := tx.Items().Reserve(ctx, itemID, cond)
	if err != nil {
		return nil, fmt.Errorf("reserve item %s: %w", itemID, err)
	}
	item, err := l.GetItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if ok {
		return item, nil
	}
	if (cond.SkuID.Valid && item.SkuID != cond.SkuID.UUID) || (cond.Stock != "" && item.Stock != cond.Stock) {
		return nil, fmt.Errorf("%w: %s", ErrItemMismatch, itemID)
	}
	return nil, fmt.Errorf("%w: %s", ErrItemUnavailable, itemID)
}

// LockUnits row-locks the items in ascending id order. Callers that reserve
// several known items take the locks up front, so two transactions wanting
// overlapping items queue instead of deadlocking.
func (l *Ledger) LockUnits(ctx context.Context, tx store.Tx, itemIDs []uuid.UUID) error {
	ids := slices.Clone(itemIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)
	if err := tx.Items().LockForUpdate(ctx, ids); err != nil {
		return fmt.Errorf("lock %d items: %w", len(ids), err)
	}
	return nil
}

// ReleaseUnit clears the reserved flag. Releasing an unreserved item is a
// no-op.
func (l *Ledger) ReleaseUnit(ctx context.Context, tx store.Tx, itemID uuid.UUID) error {
	err := tx.Items().Release(ctx, itemID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return fmt.Errorf("release item %s: %w", itemID, err)
	}
	return nil
}

// FindAvailableUnit returns the oldest unreserved item of the SKU in the
// given stock class, or nil when there is none.
func (l *Ledger) FindAvailableUnit(ctx context.Context, tx store.Tx, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	item, err := tx.Items().FindAvailable(ctx, skuID, stock)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find available item of sku %s: %w", skuID, err)
	}
	return item, nil
}

// MarkDefect moves a valid item to defect and reprices its SKU. It reports
// false without changing anything when the item is already defect.
func (l *Ledger) MarkDefect(ctx context.Context, tx store.Tx, itemID uuid.UUID, pct int) (*model.Item, bool, error) {
	if err := pricing.ValidatePercentage(pct); err != nil {
		return nil, false, err
	}
	item, err := l.GetItem(ctx, tx, itemID)
	if err != nil {
		return nil, false, err
	}
	if item.Stock == model.StockDefect {
		return item, false, nil
	}
	if !CanTransition(item.Stock, model.StockDefect) {
		return nil, false, fmt.Errorf("%w: %s", ErrItemLost, itemID)
	}

	from := item.Stock
	if err := tx.Items().SetStock(ctx, itemID, model.StockDefect); err != nil {
		return nil, false, fmt.Errorf("mark item %s defect: %w", itemID, err)
	}
	item.Stock = model.StockDefect

	if err := l.pricing.ApplyMarkdown(ctx, tx, item.SkuID, pct); err != nil {
		return nil, false, err
	}
	if err := l.emit(ctx, tx, item, EventItemMarkedDefect, ItemMarkedDefect{
		ItemID:     item.ID,
		SkuID:      item.SkuID,
		From:       from,
		Percentage: pct,
	}); err != nil {
		return nil, false, err
	}

	l.logger.Info("item marked defect",
		zap.String("item_id", item.ID.String()),
		zap.String("sku_id", item.SkuID.String()),
		zap.Int("percentage", pct),
	)
	return item, true, nil
}

// MarkNotFound moves the item to not_found from any other state. It reports
// false when the item already is not_found.
func (l *Ledger) MarkNotFound(ctx context.Context, tx store.Tx, itemID uuid.UUID) (*model.Item, bool, error) {
	item, err := l.GetItem(ctx, tx, itemID)
	if err != nil {
		return nil, false, err
	}
	if item.Stock == model.StockNotFound {
		return item, false, nil
	}

	from := item.Stock
	if err := tx.Items().SetStock(ctx, itemID, model.StockNotFound); err != nil {
		return nil, false, fmt.Errorf("mark item %s not_found: %w", itemID, err)
	}
	item.Stock = model.StockNotFound

	if err := l.emit(ctx, tx, item, EventItemMarkedNotFound, ItemMarkedNotFound{
		ItemID: item.ID,
		SkuID:  item.SkuID,
		From:   from,
	}); err != nil {
		return nil, false, err
	}

	l.logger.Info("item marked not_found",
		zap.String("item_id", item.ID.String()),
		zap.String("sku_id", item.SkuID.String()),
	)
	return item, true, nil
}

// CreateItem adds a new unreserved item to the SKU.
func (l *Ledger) CreateItem(ctx context.Context, tx store.Tx, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	if !stock.Valid() {
		return nil, ErrInvalidStock
	}
	item := &model.Item{ID: uuid.New(), SkuID: skuID, Stock: stock}
	if err := tx.Items().Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create item of sku %s: %w", skuID, err)
	}
	return item, nil
}

// EnsureSku creates the SKU with zero prices and the given count, or adds
// count to an existing one. It reports whether the SKU was created.
func (l *Ledger) EnsureSku(ctx context.Context, tx store.Tx, skuID uuid.UUID, count int) (bool, error) {
	if count < 1 {
		return false, ErrInvalidCount
	}
	_, err := tx.Skus().Get(ctx, skuID)
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		sku := &model.Sku{ID: skuID, BasePrice: decimal.Zero, ActualPrice: decimal.Zero, Count: count}
		if err := tx.Skus().Create(ctx, sku); err != nil {
			return false, fmt.Errorf("create sku %s: %w", skuID, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("get sku %s: %w", skuID, err)
	}
	return false, l.AdjustCount(ctx, tx, skuID, count)
}

// AdjustCount changes the on-hand count of the SKU by delta.
func (l *Ledger) AdjustCount(ctx context.Context, tx store.Tx, skuID uuid.UUID, delta int) error {
	err := tx.Skus().AddCount(ctx, skuID, delta)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrSkuNotFound, skuID)
	}
	if err != nil {
		return fmt.Errorf("adjust count of sku %s: %w", skuID, err)
	}
	return nil
}

func (l *Ledger) SetBasePrice(ctx context.Context, tx store.Tx, skuID uuid.UUID, price decimal.Decimal) error {
	return l.pricing.SetBasePrice(ctx, tx, skuID, price)
}

func (l *Ledger) SetHidden(ctx context.Context, tx store.Tx, skuID uuid.UUID, hidden bool) error {
	err := tx.Skus().SetHidden(ctx, skuID, hidden)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrSkuNotFound, skuID)
	}
	return err
}

func (l *Ledger) GetItem(ctx context.Context, tx store.Tx, itemID uuid.UUID) (*model.Item, error) {
	item, err := tx.Items().Get(ctx, itemID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return item, nil
}

func (l *Ledger) GetSku(ctx context.Context, tx store.Tx, skuID uuid.UUID) (*model.Sku, error) {
	sku, err := tx.Skus().Get(ctx, skuID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSkuNotFound, skuID)
	}
	if err != nil {
		return nil, fmt.Errorf("get sku %s: %w", skuID, err)
	}
	return sku, nil
}

func (l *Ledger) emit(ctx context.Context, tx store.Tx, item *model.Item, eventType string, payload any) error {
	ev, err := outbox.NewEvent(ctx, AggregateType, item.ID.String(), eventType, payload)
	if err != nil {
		return err
	}
	return tx.Outbox().Add(ctx, ev)
}
