package inventory

import (
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
)

const AggregateType = "item"

const (
	EventItemMarkedDefect   = "item.marked_defect"
	EventItemMarkedNotFound = "item.marked_not_found"
)

type ItemMarkedDefect struct {
	ItemID     uuid.UUID        `json:"item_id"`
	SkuID      uuid.UUID        `json:"sku_id"`
	From       model.StockState `json:"from"`
	Percentage int              `json:"percentage"`
}

type ItemMarkedNotFound struct {
	ItemID uuid.UUID        `json:"item_id"`
	SkuID  uuid.UUID        `json:"sku_id"`
	From   model.StockState `json:"from"`
}
