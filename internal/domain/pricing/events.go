package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "sku"

const EventPriceChanged = "sku.price_changed"

// Reason values carried by PriceChanged.
const (
	ReasonDiscount         = "discount"
	ReasonDiscountCanceled = "discount_canceled"
	ReasonMarkdown         = "markdown"
	ReasonBasePrice        = "base_price"
)

type PriceChanged struct {
	SkuID       uuid.UUID       `json:"sku_id"`
	BasePrice   decimal.Decimal `json:"base_price"`
	OldPrice    decimal.Decimal `json:"old_price"`
	ActualPrice decimal.Decimal `json:"actual_price"`
	Reason      string          `json:"reason"`
}
