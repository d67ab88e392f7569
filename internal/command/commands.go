package command

import (
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Acceptance Commands
type AcceptanceLine struct {
	SkuID uuid.UUID        `json:"sku_id"`
	Stock model.StockState `json:"stock"`
	Count int              `json:"count"`
}

type CreateAcceptance struct {
	Lines []AcceptanceLine `json:"lines"`
}

// Posting Commands
type OrderLine struct {
	SkuID         uuid.UUID   `json:"sku_id"`
	FromValidIDs  []uuid.UUID `json:"from_valid_ids"`
	FromDefectIDs []uuid.UUID `json:"from_defect_ids"`
}

type CreatePosting struct {
	OrderLines []OrderLine `json:"order_lines"`
}

type SendPosting struct {
	PostingID uuid.UUID `json:"posting_id"`
}

type CancelPosting struct {
	PostingID uuid.UUID `json:"posting_id"`
}

// Task Commands
type FinishTask struct {
	TaskID uuid.UUID        `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

// Item Commands
type MarkdownItem struct {
	ItemID     uuid.UUID `json:"item_id"`
	Percentage int       `json:"percentage"`
}

type MoveToNotFound struct {
	ItemID uuid.UUID `json:"item_id"`
}

// SKU Commands
type SetSkuPrice struct {
	SkuID uuid.UUID       `json:"sku_id"`
	Price decimal.Decimal `json:"price"`
}

type ToggleHidden struct {
	SkuID  uuid.UUID `json:"sku_id"`
	Hidden bool      `json:"hidden"`
}

// Discount Commands
type CreateDiscount struct {
	SkuIDs     []uuid.UUID `json:"sku_ids"`
	Percentage int         `json:"percentage"`
}

type CancelDiscount struct {
	DiscountID uuid.UUID `json:"discount_id"`
}

// ItemChange is the outcome of a stock change on one item together with the
// picking tasks that had to follow it.
type ItemChange struct {
	Item     *model.Item  `json:"item"`
	Changed  bool         `json:"changed"`
	Reassign []model.Task `json:"reassigned_tasks"`
}
