package discount

import "github.com/google/uuid"

const AggregateType = "discount"

const (
	EventDiscountCreated  = "discount.created"
	EventDiscountCanceled = "discount.canceled"
)

type DiscountCreated struct {
	DiscountID uuid.UUID   `json:"discount_id"`
	Percentage int         `json:"percentage"`
	SkuIDs     []uuid.UUID `json:"sku_ids"`
}

type DiscountCanceled struct {
	DiscountID uuid.UUID   `json:"discount_id"`
	SkuIDs     []uuid.UUID `json:"sku_ids"`
}
