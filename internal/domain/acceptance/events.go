package acceptance

import (
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
)

const AggregateType = "acceptance"

const EventAcceptanceCreated = "acceptance.created"

type AcceptanceCreated struct {
	AcceptanceID uuid.UUID            `json:"acceptance_id"`
	Accepted     []model.AcceptedItem `json:"accepted"`
	ItemIDs      []uuid.UUID          `json:"item_ids"`
	NewSkuIDs    []uuid.UUID          `json:"new_sku_ids"`
}
