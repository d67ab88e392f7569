package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrRecordNotFound is returned by repositories when the addressed row does
// not exist. Domain packages translate it into their own errors.
var ErrRecordNotFound = errors.New("record not found")

// Store hands out transaction-scoped repositories.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back on any error or panic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the repositories bound to a single transaction.
type Tx interface {
	Skus() SkuRepository
	Items() ItemRepository
	Tasks() TaskRepository
	Postings() PostingRepository
	Acceptances() AcceptanceRepository
	Discounts() DiscountRepository
	Outbox() OutboxRepository
}

type SkuRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Sku, error)
	Create(ctx context.Context, sku *model.Sku) error
	// SetPrices overwrites both prices. Callers keep actual <= base.
	SetPrices(ctx context.Context, id uuid.UUID, base, actual decimal.Decimal) error
	SetActualPrice(ctx context.Context, id uuid.UUID, actual decimal.Decimal) error
	AddCount(ctx context.Context, id uuid.UUID, delta int) error
	SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error
}

// ReserveCondition narrows a reservation. Zero fields match anything.
type ReserveCondition struct {
	SkuID uuid.NullUUID
	Stock model.StockState
}

type ItemRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Item, error)
	// Create inserts the item and fills in Seq and CreatedAt.
	Create(ctx context.Context, item *model.Item) error
	// Reserve flips reserved to true only when the item is unreserved, not
	// not_found and matches cond. It reports whether a row was updated.
	Reserve(ctx context.Context, id uuid.UUID, cond ReserveCondition) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
	// LockForUpdate row-locks the given items in id order until the
	// transaction ends. Unknown ids are skipped.
	LockForUpdate(ctx context.Context, ids []uuid.UUID) error
	// FindAvailable returns the unreserved item of the SKU and stock class
	// with the lowest Seq, or ErrRecordNotFound.
	FindAvailable(ctx context.Context, skuID uuid.UUID, stock model.StockState) (*model.Item, error)
	SetStock(ctx context.Context, id uuid.UUID, stock model.StockState) error
	ListBySku(ctx context.Context, skuID uuid.UUID) ([]model.Item, error)
	HasNonDefect(ctx context.Context, skuID uuid.UUID) (bool, error)
}

type TaskRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Task, error)
	Create(ctx context.Context, task *model.Task) error
	// UpdateStatus moves the task from one status to another and reports
	// whether the task was still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.TaskStatus) (bool, error)
	Retarget(ctx context.Context, id, itemID uuid.UUID) error
	ListByPosting(ctx context.Context, postingID uuid.UUID) ([]model.Task, error)
	ListByAcceptance(ctx context.Context, acceptanceID uuid.UUID) ([]model.Task, error)
	// ListInWorkPicks returns in_work picking tasks targeting the item.
	ListInWorkPicks(ctx context.Context, itemID uuid.UUID) ([]model.Task, error)
}

type PostingRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Posting, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Posting, error)
	Create(ctx context.Context, p *model.Posting) error
	UpdateCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.PostingStatus) (bool, error)
	AddOrderLine(ctx context.Context, line *model.OrderLine) error
	ListOrderLines(ctx context.Context, postingID uuid.UUID) ([]model.OrderLine, error)
	AddShortfall(ctx context.Context, s *model.Shortfall) error
	ListShortfalls(ctx context.Context, postingID uuid.UUID) ([]model.Shortfall, error)
}

type AcceptanceRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Acceptance, error)
	Create(ctx context.Context, a *model.Acceptance) error
	AddAcceptedItem(ctx context.Context, item *model.AcceptedItem) error
	ListAcceptedItems(ctx context.Context, acceptanceID uuid.UUID) ([]model.AcceptedItem, error)
}

type DiscountRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Discount, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Discount, error)
	// Create stores the discount together with its SKU associations.
	Create(ctx context.Context, d *model.Discount) error
	Finish(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListActiveBySku(ctx context.Context, skuID uuid.UUID) ([]model.Discount, error)
}

// OutboxRepository appends events inside the caller's transaction.
type OutboxRepository interface {
	Add(ctx context.Context, event outbox.Event) error
}
