package query

import (
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
)

// SkuStockReadModel lists the units of one SKU with per-state totals.
type SkuStockReadModel struct {
	SkuID     uuid.UUID    `json:"sku_id"`
	Items     []model.Item `json:"items"`
	Available int          `json:"available"`
	Reserved  int          `json:"reserved"`
	Defect    int          `json:"defect"`
	NotFound  int          `json:"not_found"`
}

func newSkuStock(skuID uuid.UUID, items []model.Item) *SkuStockReadModel {
	rm := &SkuStockReadModel{SkuID: skuID, Items: items}
	for _, it := range items {
		if it.Available() {
			rm.Available++
		}
		if it.Reserved {
			rm.Reserved++
		}
		switch it.Stock {
		case model.StockDefect:
			rm.Defect++
		case model.StockNotFound:
			rm.NotFound++
		}
	}
	if rm.Items == nil {
		rm.Items = []model.Item{}
	}
	return rm
}
