package posting

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "posting"

const (
	EventPostingCreated  = "posting.created"
	EventPostingSent     = "posting.sent"
	EventPostingCanceled = "posting.canceled"
)

type PostingCreated struct {
	PostingID  uuid.UUID       `json:"posting_id"`
	Cost       decimal.Decimal `json:"cost"`
	ItemIDs    []uuid.UUID     `json:"item_ids"`
	TaskIDs    []uuid.UUID     `json:"task_ids"`
	Shortfalls int             `json:"shortfalls"`
}

type PostingSent struct {
	PostingID uuid.UUID       `json:"posting_id"`
	Cost      decimal.Decimal `json:"cost"`
	ItemIDs   []uuid.UUID     `json:"item_ids"`
}

type PostingCanceled struct {
	PostingID       uuid.UUID   `json:"posting_id"`
	ReleasedItemIDs []uuid.UUID `json:"released_item_ids"`
	PlacingTaskIDs  []uuid.UUID `json:"placing_task_ids"`
}
