// Package discount manages promotional campaigns over sets of SKUs.
package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDiscountNotFound = fmt.Errorf("discount %w", apperr.ErrNotFound)
	ErrDiscountFinished = fmt.Errorf("discount is not active: %w", apperr.ErrInvalidState)
	ErrNoSkus           = fmt.Errorf("discount must cover at least one sku: %w", apperr.ErrValidation)
)

// DefaultPercentage applies when a discount request leaves the percentage out.
const DefaultPercentage = 10

type Workflow struct {
	pricing *pricing.Engine
	logger  *zap.Logger
}

func NewWorkflow(engine *pricing.Engine, logger *zap.Logger) *Workflow {
	return &Workflow{pricing: engine, logger: logger}
}

// Create records an active discount and lowers the prices of its SKUs.
func (w *Workflow) Create(ctx context.Context, tx store.Tx, skuIDs []uuid.UUID, pct int) (*model.Discount, error) {
	if err := pricing.ValidatePercentage(pct); err != nil {
		return nil, err
	}
	skuIDs = dedupe(skuIDs)
	if len(skuIDs) == 0 {
		return nil, ErrNoSkus
	}
	for _, id := range skuIDs {
		if _, err := tx.Skus().Get(ctx, id); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", pricing.ErrSkuNotFound, id)
			}
			return nil, fmt.Errorf("get sku %s: %w", id, err)
		}
	}

	d := &model.Discount{
		ID:         uuid.New(),
		Status:     model.DiscountActive,
		Percentage: pct,
		SkuIDs:     skuIDs,
	}
	if err := tx.Discounts().Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create discount: %w", err)
	}
	if err := w.pricing.ApplyDiscount(ctx, tx, skuIDs, pct); err != nil {
		return nil, err
	}
	if err := w.emit(ctx, tx, d.ID, EventDiscountCreated, DiscountCreated{
		DiscountID: d.ID,
		Percentage: pct,
		SkuIDs:     skuIDs,
	}); err != nil {
		return nil, err
	}

	w.logger.Info("discount created",
		zap.String("discount_id", d.ID.String()),
		zap.Int("percentage", pct),
		zap.Int("skus", len(skuIDs)),
	)
	return d, nil
}

// Cancel finishes an active discount and resets the prices of its SKUs.
func (w *Workflow) Cancel(ctx context.Context, tx store.Tx, discountID uuid.UUID) (*model.Discount, error) {
	d, err := tx.Discounts().GetForUpdate(ctx, discountID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock discount %s: %w", discountID, err)
	}
	if d.Status != model.DiscountActive {
		return nil, fmt.Errorf("%w: %s", ErrDiscountFinished, discountID)
	}

	now := time.Now().UTC()
	ok, err := tx.Discounts().Finish(ctx, discountID, now)
	if err != nil {
		return nil, fmt.Errorf("finish discount %s: %w", discountID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiscountFinished, discountID)
	}
	d.Status = model.DiscountFinished
	d.FinishedAt = &now

	if err := w.pricing.CancelDiscount(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := w.emit(ctx, tx, d.ID, EventDiscountCanceled, DiscountCanceled{
		DiscountID: d.ID,
		SkuIDs:     d.SkuIDs,
	}); err != nil {
		return nil, err
	}

	w.logger.Info("discount canceled", zap.String("discount_id", d.ID.String()))
	return d, nil
}

func (w *Workflow) Get(ctx context.Context, tx store.Tx, discountID uuid.UUID) (*model.Discount, error) {
	d, err := tx.Discounts().Get(ctx, discountID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get discount %s: %w", discountID, err)
	}
	return d, nil
}

func (w *Workflow) emit(ctx context.Context, tx store.Tx, discountID uuid.UUID, eventType string, payload any) error {
	ev, err := outbox.NewEvent(ctx, AggregateType, discountID.String(), eventType, payload)
	if err != nil {
		return err
	}
	return tx.Outbox().Add(ctx, ev)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
