// Package acceptance handles intake of inbound goods.
package acceptance

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAcceptanceNotFound = fmt.Errorf("acceptance %w", apperr.ErrNotFound)
	ErrEmptyAcceptance    = fmt.Errorf("acceptance must have at least one line: %w", apperr.ErrValidation)
)

// Line is one requested intake line: count new units of a SKU in one stock
// class.
type Line struct {
	SkuID uuid.UUID
	Stock model.StockState
	Count int
}

func (l Line) validate() error {
	if !l.Stock.Sourceable() {
		return fmt.Errorf("%w: %q", inventory.ErrInvalidStock, l.Stock)
	}
	if l.Count < 1 {
		return fmt.Errorf("%w: sku %s", inventory.ErrInvalidCount, l.SkuID)
	}
	return nil
}

type Workflow struct {
	inventory *inventory.Ledger
	tasks     *task.Ledger
	logger    *zap.Logger
}

func NewWorkflow(inv *inventory.Ledger, tasks *task.Ledger, logger *zap.Logger) *Workflow {
	return &Workflow{inventory: inv, tasks: tasks, logger: logger}
}

// Create records the acceptance, creates missing SKUs, and adds one new
// item plus one in_work placing task per accepted unit.
func (w *Workflow) Create(ctx context.Context, tx store.Tx, lines []Line) (*model.Acceptance, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyAcceptance
	}
	for _, line := range lines {
		if err := line.validate(); err != nil {
			return nil, err
		}
	}

	a := &model.Acceptance{ID: uuid.New()}
	if err := tx.Acceptances().Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create acceptance: %w", err)
	}
	owner := uuid.NullUUID{UUID: a.ID, Valid: true}

	var itemIDs, newSkus []uuid.UUID
	for _, line := range lines {
		created, err := w.inventory.EnsureSku(ctx, tx, line.SkuID, line.Count)
		if err != nil {
			return nil, err
		}
		if created {
			newSkus = append(newSkus, line.SkuID)
		}

		accepted := model.AcceptedItem{
			ID:           uuid.New(),
			AcceptanceID: a.ID,
			SkuID:        line.SkuID,
			Stock:        line.Stock,
			Count:        line.Count,
		}
		if err := tx.Acceptances().AddAcceptedItem(ctx, &accepted); err != nil {
			return nil, fmt.Errorf("add accepted item: %w", err)
		}
		a.Accepted = append(a.Accepted, accepted)

		for range line.Count {
			item, err := w.inventory.CreateItem(ctx, tx, line.SkuID, line.Stock)
			if err != nil {
				return nil, err
			}
			t, err := w.tasks.Create(ctx, tx, task.NewTask{
				Type:         model.TaskPlacing,
				TargetItemID: item.ID,
				TargetStock:  item.Stock,
				AcceptanceID: owner,
			})
			if err != nil {
				return nil, err
			}
			itemIDs = append(itemIDs, item.ID)
			a.Tasks = append(a.Tasks, *t)
		}
	}

	ev, err := outbox.NewEvent(ctx, AggregateType, a.ID.String(), EventAcceptanceCreated, AcceptanceCreated{
		AcceptanceID: a.ID,
		Accepted:     a.Accepted,
		ItemIDs:      itemIDs,
		NewSkuIDs:    newSkus,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Outbox().Add(ctx, ev); err != nil {
		return nil, err
	}

	w.logger.Info("acceptance created",
		zap.String("acceptance_id", a.ID.String()),
		zap.Int("lines", len(lines)),
		zap.Int("items", len(itemIDs)),
	)
	return a, nil
}

// Get loads the acceptance with its accepted-item summaries and tasks.
func (w *Workflow) Get(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.Acceptance, error) {
	a, err := tx.Acceptances().Get(ctx, id)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAcceptanceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get acceptance %s: %w", id, err)
	}
	if a.Accepted, err = tx.Acceptances().ListAcceptedItems(ctx, id); err != nil {
		return nil, fmt.Errorf("list accepted items of %s: %w", id, err)
	}
	if a.Tasks, err = w.tasks.ListByAcceptance(ctx, tx, id); err != nil {
		return nil, err
	}
	return a, nil
}
