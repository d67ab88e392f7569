// Package posting fulfils outbound orders: it reserves requested units or
// substitutes, prices the order, issues picking tasks and compensates on
// cancellation.
package posting

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPostingNotFound = fmt.Errorf("posting %w", apperr.ErrNotFound)
	ErrEmptyPosting    = fmt.Errorf("posting must request at least one item: %w", apperr.ErrInvalidState)
	ErrNoTasks         = fmt.Errorf("posting has no tasks: %w", apperr.ErrInvalidState)
	ErrIncompleteTasks = fmt.Errorf("not all tasks completed: %w", apperr.ErrInvalidState)
	ErrNotCancelable   = fmt.Errorf("posting can only be canceled in item pick: %w", apperr.ErrInvalidState)
	ErrPostingFinished = fmt.Errorf("posting is already finished: %w", apperr.ErrInvalidTransition)
)

// maxSubstituteAttempts bounds how often a substitute may be lost to a
// concurrent posting before the unit is recorded as a shortfall.
const maxSubstituteAttempts = 5

// validTransitions defines allowed posting status transitions
var validTransitions = map[model.PostingStatus][]model.PostingStatus{
	model.PostingInItemPick: {model.PostingSent, model.PostingCanceled},
	model.PostingSent:       {}, // terminal state
	model.PostingCanceled:   {}, // terminal state
}

// CanTransition checks if a posting may move between the two statuses
func CanTransition(from, to model.PostingStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// LineRequest asks for specific units of one SKU, split by the stock class
// each list must be sourced from.
type LineRequest struct {
	SkuID         uuid.UUID
	FromValidIDs  []uuid.UUID
	FromDefectIDs []uuid.UUID
}

type Workflow struct {
	inventory *inventory.Ledger
	tasks     *task.Ledger
	logger    *zap.Logger
}

func NewWorkflow(inv *inventory.Ledger, tasks *task.Ledger, logger *zap.Logger) *Workflow {
	return &Workflow{inventory: inv, tasks: tasks, logger: logger}
}

// Create reserves every requested unit, substituting or recording a
// shortfall when a unit cannot be reserved. Shortfalls never fail the call.
func (w *Workflow) Create(ctx context.Context, tx store.Tx, lines []LineRequest) (*model.Posting, error) {
	var requestedIDs []uuid.UUID
	for _, l := range lines {
		requestedIDs = append(requestedIDs, l.FromValidIDs...)
		requestedIDs = append(requestedIDs, l.FromDefectIDs...)
	}
	requested := len(requestedIDs)
	if requested == 0 {
		return nil, ErrEmptyPosting
	}
	if err := w.inventory.LockUnits(ctx, tx, requestedIDs); err != nil {
		return nil, err
	}

	skus := make(map[uuid.UUID]*model.Sku, len(lines))
	for _, l := range lines {
		if _, ok := skus[l.SkuID]; ok {
			continue
		}
		sku, err := w.inventory.GetSku(ctx, tx, l.SkuID)
		if err != nil {
			return nil, err
		}
		skus[l.SkuID] = sku
	}

	p := &model.Posting{ID: uuid.New(), Status: model.PostingInItemPick, Cost: decimal.Zero}
	if err := tx.Postings().Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create posting: %w", err)
	}

	var itemIDs []uuid.UUID
	for _, l := range lines {
		line := model.OrderLine{
			ID:            uuid.New(),
			PostingID:     p.ID,
			SkuID:         l.SkuID,
			FromValidIDs:  l.FromValidIDs,
			FromDefectIDs: l.FromDefectIDs,
		}
		if err := tx.Postings().AddOrderLine(ctx, &line); err != nil {
			return nil, fmt.Errorf("add order line: %w", err)
		}
		p.OrderLines = append(p.OrderLines, line)

		sku := skus[l.SkuID]
		for _, unit := range line.Requested() {
			item, err := w.reserveOrSubstitute(ctx, tx, sku.ID, unit)
			if err != nil {
				return nil, err
			}
			if item == nil {
				t, s, err := w.recordShortfall(ctx, tx, p.ID, sku.ID, unit)
				if err != nil {
					return nil, err
				}
				p.Tasks = append(p.Tasks, *t)
				p.Shortfalls = append(p.Shortfalls, *s)
				continue
			}

			p.Cost = p.Cost.Add(sku.ActualPrice)
			t, err := w.tasks.Create(ctx, tx, task.NewTask{
				Type:         model.TaskPicking,
				TargetItemID: item.ID,
				TargetStock:  unit.Stock,
				PostingID:    uuid.NullUUID{UUID: p.ID, Valid: true},
			})
			if err != nil {
				return nil, err
			}
			p.Tasks = append(p.Tasks, *t)
			itemIDs = append(itemIDs, item.ID)
		}
	}

	p.Cost = p.Cost.Round(2)
	if err := tx.Postings().UpdateCost(ctx, p.ID, p.Cost); err != nil {
		return nil, fmt.Errorf("update posting cost: %w", err)
	}

	taskIDs := make([]uuid.UUID, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	if err := w.emit(ctx, tx, p.ID, EventPostingCreated, PostingCreated{
		PostingID:  p.ID,
		Cost:       p.Cost,
		ItemIDs:    itemIDs,
		TaskIDs:    taskIDs,
		Shortfalls: len(p.Shortfalls),
	}); err != nil {
		return nil, err
	}

	w.logger.Info("posting created",
		zap.String("posting_id", p.ID.String()),
		zap.Int("requested", requested),
		zap.Int("reserved", len(itemIDs)),
		zap.Int("shortfalls", len(p.Shortfalls)),
		zap.String("cost", p.Cost.StringFixed(2)),
	)
	return p, nil
}

// reserveOrSubstitute returns the reserved unit, or nil when neither the
// requested unit nor any substitute could be reserved.
func (w *Workflow) reserveOrSubstitute(ctx context.Context, tx store.Tx, skuID uuid.UUID, unit model.RequestedUnit) (*model.Item, error) {
	item, err := w.inventory.ReserveMatching(ctx, tx, unit.ItemID, skuID, unit.Stock)
	if err == nil {
		return item, nil
	}
	if apperr.Kind(err) == apperr.CategoryInternal {
		return nil, err
	}
	return w.substitute(ctx, tx, skuID, unit.Stock)
}

func (w *Workflow) substitute(ctx context.Context, tx store.Tx, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	for range maxSubstituteAttempts {
		candidate, err := w.inventory.FindAvailableUnit(ctx, tx, skuID, stock)
		if err != nil || candidate == nil {
			return nil, err
		}
		item, err := w.inventory.ReserveMatching(ctx, tx, candidate.ID, skuID, stock)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
	}
	return nil, nil
}

// recordShortfall creates the not_found stub unit, a canceled picking task
// on it, and the shortfall row.
func (w *Workflow) recordShortfall(ctx context.Context, tx store.Tx, postingID, skuID uuid.UUID, unit model.RequestedUnit) (*model.Task, *model.Shortfall, error) {
	stub, err := w.inventory.CreateItem(ctx, tx, skuID, model.StockNotFound)
	if err != nil {
		return nil, nil, err
	}
	t, err := w.tasks.Create(ctx, tx, task.NewTask{
		Type:         model.TaskPicking,
		Status:       model.TaskCanceled,
		TargetItemID: stub.ID,
		TargetStock:  unit.Stock,
		PostingID:    uuid.NullUUID{UUID: postingID, Valid: true},
	})
	if err != nil {
		return nil, nil, err
	}
	s := &model.Shortfall{
		ID:              uuid.New(),
		PostingID:       postingID,
		SkuID:           skuID,
		Stock:           unit.Stock,
		RequestedItemID: unit.ItemID,
		StubItemID:      uuid.NullUUID{UUID: stub.ID, Valid: true},
	}
	if err := tx.Postings().AddShortfall(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("add shortfall: %w", err)
	}

	w.logger.Warn("posting shortfall",
		zap.String("posting_id", postingID.String()),
		zap.String("sku_id", skuID.String()),
		zap.String("item_id", unit.ItemID.String()),
		zap.String("stock", string(unit.Stock)),
	)
	return t, s, nil
}

// Send ships the posting once every one of its tasks is completed.
func (w *Workflow) Send(ctx context.Context, tx store.Tx, postingID uuid.UUID) (*model.Posting, error) {
	p, err := w.getForUpdate(ctx, tx, postingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, model.PostingSent) {
		return nil, fmt.Errorf("%w: %s is %s", ErrPostingFinished, postingID, p.Status)
	}

	tasks, err := w.tasks.ListByPosting(ctx, tx, postingID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTasks, postingID)
	}
	pending := 0
	for _, t := range tasks {
		if t.Status != model.TaskCompleted {
			pending++
		}
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: %d of %d outstanding", ErrIncompleteTasks, pending, len(tasks))
	}

	if err := w.transition(ctx, tx, p, model.PostingSent); err != nil {
		return nil, err
	}

	shipped := make(map[uuid.UUID]int)
	itemIDs := make([]uuid.UUID, 0, len(tasks))
	for _, t := range tasks {
		if t.Type != model.TaskPicking {
			continue
		}
		item, err := w.inventory.GetItem(ctx, tx, t.TargetItemID)
		if err != nil {
			return nil, err
		}
		shipped[item.SkuID]++
		itemIDs = append(itemIDs, item.ID)
	}
	for skuID, n := range shipped {
		if err := w.inventory.AdjustCount(ctx, tx, skuID, -n); err != nil {
			return nil, err
		}
	}

	if err := w.emit(ctx, tx, p.ID, EventPostingSent, PostingSent{
		PostingID: p.ID,
		Cost:      p.Cost,
		ItemIDs:   itemIDs,
	}); err != nil {
		return nil, err
	}
	p.Tasks = tasks

	w.logger.Info("posting sent", zap.String("posting_id", p.ID.String()), zap.Int("items", len(itemIDs)))
	return p, nil
}

// Cancel cancels an in-pick posting. Every unit the posting holds is
// released and gets a compensating placing task.
func (w *Workflow) Cancel(ctx context.Context, tx store.Tx, postingID uuid.UUID) (*model.Posting, error) {
	p, err := w.getForUpdate(ctx, tx, postingID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PostingInItemPick {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCancelable, postingID, p.Status)
	}
	if err := w.transition(ctx, tx, p, model.PostingCanceled); err != nil {
		return nil, err
	}

	tasks, err := w.tasks.ListByPosting(ctx, tx, postingID)
	if err != nil {
		return nil, err
	}
	targets := make([]uuid.UUID, 0, len(tasks))
	for _, t := range tasks {
		if t.Type == model.TaskPicking {
			targets = append(targets, t.TargetItemID)
		}
	}
	if err := w.inventory.LockUnits(ctx, tx, targets); err != nil {
		return nil, err
	}

	var released []uuid.UUID
	for _, t := range tasks {
		switch {
		case t.Status == model.TaskInWork:
			// Canceling an in_work pick releases its target.
			if _, err := w.tasks.Cancel(ctx, tx, t.ID); err != nil {
				return nil, err
			}
			if t.Type == model.TaskPicking {
				released = append(released, t.TargetItemID)
			}
		case t.Status == model.TaskCompleted && t.Type == model.TaskPicking:
			if err := w.inventory.ReleaseUnit(ctx, tx, t.TargetItemID); err != nil {
				return nil, err
			}
			released = append(released, t.TargetItemID)
		}
	}

	owner := uuid.NullUUID{UUID: p.ID, Valid: true}
	placing := make([]uuid.UUID, 0, len(released))
	for _, itemID := range released {
		item, err := w.inventory.GetItem(ctx, tx, itemID)
		if err != nil {
			return nil, err
		}
		t, err := w.tasks.Create(ctx, tx, task.NewTask{
			Type:         model.TaskPlacing,
			TargetItemID: item.ID,
			TargetStock:  item.Stock,
			PostingID:    owner,
		})
		if err != nil {
			return nil, err
		}
		placing = append(placing, t.ID)
	}

	if err := w.emit(ctx, tx, p.ID, EventPostingCanceled, PostingCanceled{
		PostingID:       p.ID,
		ReleasedItemIDs: released,
		PlacingTaskIDs:  placing,
	}); err != nil {
		return nil, err
	}

	w.logger.Info("posting canceled",
		zap.String("posting_id", p.ID.String()),
		zap.Int("released", len(released)),
	)
	return w.Get(ctx, tx, postingID)
}

// ReassignPicks moves in_work picking tasks off an item that no longer is in
// the stock class they expect. Each task gets a reserved substitute, or is
// canceled and recorded as a shortfall when there is none.
func (w *Workflow) ReassignPicks(ctx context.Context, tx store.Tx, itemID uuid.UUID) ([]model.Task, error) {
	item, err := w.inventory.GetItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	picks, err := w.tasks.ListInWorkPicks(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	var changed []model.Task
	for _, t := range picks {
		if t.TargetStock == item.Stock {
			continue
		}
		sub, err := w.substitute(ctx, tx, item.SkuID, t.TargetStock)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			if err := w.tasks.Retarget(ctx, tx, t.ID, sub.ID); err != nil {
				return nil, err
			}
			if err := w.inventory.ReleaseUnit(ctx, tx, itemID); err != nil {
				return nil, err
			}
			t.TargetItemID = sub.ID
			changed = append(changed, t)
			w.logger.Info("pick retargeted",
				zap.String("task_id", t.ID.String()),
				zap.String("item_id", itemID.String()),
				zap.String("substitute_id", sub.ID.String()),
			)
			continue
		}

		canceled, err := w.tasks.Cancel(ctx, tx, t.ID)
		if err != nil {
			return nil, err
		}
		if err := tx.Postings().AddShortfall(ctx, &model.Shortfall{
			ID:              uuid.New(),
			PostingID:       t.PostingID.UUID,
			SkuID:           item.SkuID,
			Stock:           t.TargetStock,
			RequestedItemID: itemID,
		}); err != nil {
			return nil, fmt.Errorf("add shortfall: %w", err)
		}
		changed = append(changed, *canceled)
		w.logger.Warn("pick canceled, no substitute",
			zap.String("task_id", t.ID.String()),
			zap.String("posting_id", t.PostingID.UUID.String()),
			zap.String("item_id", itemID.String()),
		)
	}
	return changed, nil
}

// Get loads the posting with its order lines, shortfalls and tasks.
func (w *Workflow) Get(ctx context.Context, tx store.Tx, postingID uuid.UUID) (*model.Posting, error) {
	p, err := tx.Postings().Get(ctx, postingID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPostingNotFound, postingID)
	}
	if err != nil {
		return nil, fmt.Errorf("get posting %s: %w", postingID, err)
	}
	if p.OrderLines, err = tx.Postings().ListOrderLines(ctx, postingID); err != nil {
		return nil, fmt.Errorf("list order lines of %s: %w", postingID, err)
	}
	if p.Shortfalls, err = tx.Postings().ListShortfalls(ctx, postingID); err != nil {
		return nil, fmt.Errorf("list shortfalls of %s: %w", postingID, err)
	}
	if p.Tasks, err = w.tasks.ListByPosting(ctx, tx, postingID); err != nil {
		return nil, err
	}
	return p, nil
}

func (w *Workflow) getForUpdate(ctx context.Context, tx store.Tx, postingID uuid.UUID) (*model.Posting, error) {
	p, err := tx.Postings().GetForUpdate(ctx, postingID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPostingNotFound, postingID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock posting %s: %w", postingID, err)
	}
	return p, nil
}

func (w *Workflow) transition(ctx context.Context, tx store.Tx, p *model.Posting, to model.PostingStatus) error {
	ok, err := tx.Postings().UpdateStatus(ctx, p.ID, p.Status, to)
	if err != nil {
		return fmt.Errorf("update posting %s: %w", p.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrPostingFinished, p.ID)
	}
	p.Status = to
	return nil
}

func (w *Workflow) emit(ctx context.Context, tx store.Tx, postingID uuid.UUID, eventType string, payload any) error {
	ev, err := outbox.NewEvent(ctx, AggregateType, postingID.String(), eventType, payload)
	if err != nil {
		return err
	}
	return tx.Outbox().Add(ctx, ev)
}
