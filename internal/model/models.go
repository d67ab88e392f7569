// Package model holds the persisted entities of the fulfillment service.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sku is a catalog entry.
type Sku struct {
	ID          uuid.UUID       `json:"id"`
	BasePrice   decimal.Decimal `json:"base_price"`
	ActualPrice decimal.Decimal `json:"actual_price"`
	Count       int             `json:"count"`
	IsHidden    bool            `json:"is_hidden"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Item is one physical unit of a Sku.
type Item struct {
	ID        uuid.UUID  `json:"id"`
	SkuID     uuid.UUID  `json:"sku_id"`
	Stock     StockState `json:"stock"`
	Reserved  bool       `json:"reserved"`
	Seq       int64      `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}

// Available reports whether the item may be reserved.
func (i *Item) Available() bool {
	return !i.Reserved && i.Stock != StockNotFound
}

// Task is one unit of physical work bound to exactly one item.
// TargetStock is the stock class the task expects the target to be in.
type Task struct {
	ID           uuid.UUID     `json:"id"`
	Type         TaskType      `json:"type"`
	Status       TaskStatus    `json:"status"`
	TargetItemID uuid.UUID     `json:"target_item_id"`
	TargetStock  StockState    `json:"target_stock"`
	PostingID    uuid.NullUUID `json:"posting_id"`
	AcceptanceID uuid.NullUUID `json:"acceptance_id"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// OrderLine is one SKU's requested units within a posting, split by the
// stock class they must come from.
type OrderLine struct {
	ID            uuid.UUID   `json:"id"`
	PostingID     uuid.UUID   `json:"posting_id"`
	SkuID         uuid.UUID   `json:"sku_id"`
	FromValidIDs  []uuid.UUID `json:"from_valid_ids"`
	FromDefectIDs []uuid.UUID `json:"from_defect_ids"`
}

// Requested returns every requested item id with the stock class it was
// requested from, valid ids first.
func (l *OrderLine) Requested() []RequestedUnit {
	out := make([]RequestedUnit, 0, len(l.FromValidIDs)+len(l.FromDefectIDs))
	for _, id := range l.FromValidIDs {
		out = append(out, RequestedUnit{ItemID: id, Stock: StockValid})
	}
	for _, id := range l.FromDefectIDs {
		out = append(out, RequestedUnit{ItemID: id, Stock: StockDefect})
	}
	return out
}

type RequestedUnit struct {
	ItemID uuid.UUID
	Stock  StockState
}

// Shortfall records a requested unit that could not be reserved even by
// substitution. StubItemID points at the not_found stub created for it.
type Shortfall struct {
	ID              uuid.UUID     `json:"id"`
	PostingID       uuid.UUID     `json:"posting_id"`
	SkuID           uuid.UUID     `json:"sku_id"`
	Stock           StockState    `json:"stock"`
	RequestedItemID uuid.UUID     `json:"requested_item_id"`
	StubItemID      uuid.NullUUID `json:"stub_item_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Posting is an outbound order.
type Posting struct {
	ID         uuid.UUID       `json:"id"`
	Status     PostingStatus   `json:"status"`
	Cost       decimal.Decimal `json:"cost"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	OrderLines []OrderLine     `json:"order_lines"`
	Shortfalls []Shortfall     `json:"shortfalls"`
	Tasks      []Task          `json:"tasks"`
}

// Acceptance is an inbound-goods intake batch.
type Acceptance struct {
	ID        uuid.UUID      `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Accepted  []AcceptedItem `json:"accepted"`
	Tasks     []Task         `json:"tasks"`
}

// AcceptedItem summarises one requested intake line.
type AcceptedItem struct {
	ID           uuid.UUID  `json:"id"`
	AcceptanceID uuid.UUID  `json:"acceptance_id"`
	SkuID        uuid.UUID  `json:"sku_id"`
	Stock        StockState `json:"stock"`
	Count        int        `json:"count"`
}

// Discount is a promotional campaign over a set of SKUs.
type Discount struct {
	ID         uuid.UUID      `json:"id"`
	Status     DiscountStatus `json:"status"`
	Percentage int            `json:"percentage"`
	SkuIDs     []uuid.UUID    `json:"sku_ids"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
