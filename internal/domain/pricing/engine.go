// Package pricing computes the effective sale price of a SKU from its base
// price, the active discounts that cover it and any defect markdown.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrSkuNotFound       = fmt.Errorf("sku %w", apperr.ErrNotFound)
	ErrInvalidPercentage = fmt.Errorf("percentage must be between 1 and 100: %w", apperr.ErrValidation)
	ErrNegativePrice     = fmt.Errorf("price must not be negative: %w", apperr.ErrValidation)
	ErrPriceTooLarge     = fmt.Errorf("price must be below 100000000: %w", apperr.ErrValidation)
)

var (
	hundred = decimal.NewFromInt(100)
	// MaxPrice is the largest price the skus table can hold.
	MaxPrice = decimal.RequireFromString("99999999.99")
)

// ValidatePercentage rejects percentages outside 1..100.
func ValidatePercentage(pct int) error {
	if pct < 1 || pct > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// Candidate returns base reduced by pct percent, rounded to cents.
func Candidate(base decimal.Decimal, pct int) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(int64(100 - pct))).Div(hundred).Round(2)
}

type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// ApplyDiscount lowers the actual price of every SKU to its discounted
// candidate when that is cheaper. It never raises a price.
func (e *Engine) ApplyDiscount(ctx context.Context, tx store.Tx, skuIDs []uuid.UUID, pct int) error {
	if err := ValidatePercentage(pct); err != nil {
		return err
	}
	for _, id := range skuIDs {
		sku, err := e.getSku(ctx, tx, id)
		if err != nil {
			return err
		}
		candidate := Candidate(sku.BasePrice, pct)
		if candidate.LessThan(sku.ActualPrice) {
			if err := e.setActual(ctx, tx, sku, candidate, ReasonDiscount); err != nil {
				return err
			}
		}
	}
	return nil
}

// CancelDiscount resets the actual price to base for every SKU of d that
// still has a unit outside defect stock. Other active discounts on those
// SKUs are not taken into account.
func (e *Engine) CancelDiscount(ctx context.Context, tx store.Tx, d *model.Discount) error {
	for _, id := range d.SkuIDs {
		hasNonDefect, err := tx.Items().HasNonDefect(ctx, id)
		if err != nil {
			return fmt.Errorf("check items of sku %s: %w", id, err)
		}
		if !hasNonDefect {
			continue
		}
		sku, err := e.getSku(ctx, tx, id)
		if err != nil {
			return err
		}
		if sku.ActualPrice.Equal(sku.BasePrice) {
			continue
		}
		if err := e.setActual(ctx, tx, sku, sku.BasePrice, ReasonDiscountCanceled); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMarkdown sets the actual price to the cheapest of the markdown price
// and every active discount price of the SKU.
func (e *Engine) ApplyMarkdown(ctx context.Context, tx store.Tx, skuID uuid.UUID, pct int) error {
	if err := ValidatePercentage(pct); err != nil {
		return err
	}
	sku, err := e.getSku(ctx, tx, skuID)
	if err != nil {
		return err
	}
	price, err := e.cheapestActive(ctx, tx, sku, Candidate(sku.BasePrice, pct))
	if err != nil {
		return err
	}
	if price.Equal(sku.ActualPrice) {
		return nil
	}
	return e.setActual(ctx, tx, sku, price, ReasonMarkdown)
}

// SetBasePrice changes the base price. The actual price keeps its ratio to
// base, so a markdown or discount already in effect survives, and is then
// capped by the new base and every active discount.
func (e *Engine) SetBasePrice(ctx context.Context, tx store.Tx, skuID uuid.UUID, base decimal.Decimal) error {
	if base.IsNegative() {
		return ErrNegativePrice
	}
	base = base.Round(2)
	if base.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: %s", ErrPriceTooLarge, base.StringFixed(2))
	}
	sku, err := e.getSku(ctx, tx, skuID)
	if err != nil {
		return err
	}

	start := base
	if sku.BasePrice.IsPositive() {
		start = decimal.Min(base, sku.ActualPrice.Mul(base).Div(sku.BasePrice).Round(2))
	}
	sku.BasePrice = base
	actual, err := e.cheapestActive(ctx, tx, sku, start)
	if err != nil {
		return err
	}
	if err := tx.Skus().SetPrices(ctx, sku.ID, base, actual); err != nil {
		return fmt.Errorf("set prices of sku %s: %w", sku.ID, err)
	}
	return e.record(ctx, tx, sku, actual, ReasonBasePrice)
}

func (e *Engine) cheapestActive(ctx context.Context, tx store.Tx, sku *model.Sku, start decimal.Decimal) (decimal.Decimal, error) {
	discounts, err := tx.Discounts().ListActiveBySku(ctx, sku.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list discounts of sku %s: %w", sku.ID, err)
	}
	price := start
	for _, d := range discounts {
		price = decimal.Min(price, Candidate(sku.BasePrice, d.Percentage))
	}
	return price, nil
}

func (e *Engine) getSku(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.Sku, error) {
	sku, err := tx.Skus().Get(ctx, id)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSkuNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sku %s: %w", id, err)
	}
	return sku, nil
}

func (e *Engine) setActual(ctx context.Context, tx store.Tx, sku *model.Sku, price decimal.Decimal, reason string) error {
	if err := tx.Skus().SetActualPrice(ctx, sku.ID, price); err != nil {
		return fmt.Errorf("set actual price of sku %s: %w", sku.ID, err)
	}
	return e.record(ctx, tx, sku, price, reason)
}

func (e *Engine) record(ctx context.Context, tx store.Tx, sku *model.Sku, price decimal.Decimal, reason string) error {
	ev, err := outbox.NewEvent(ctx, AggregateType, sku.ID.String(), EventPriceChanged, PriceChanged{
		SkuID:       sku.ID,
		BasePrice:   sku.BasePrice,
		OldPrice:    sku.ActualPrice,
		ActualPrice: price,
		Reason:      reason,
	})
	if err != nil {
		return err
	}
	e.logger.Debug("sku price changed",
		zap.String("sku_id", sku.ID.String()),
		zap.String("old_price", sku.ActualPrice.StringFixed(2)),
		zap.String("actual_price", price.StringFixed(2)),
		zap.String("reason", reason),
	)
	return tx.Outbox().Add(ctx, ev)
}
