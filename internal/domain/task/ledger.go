// Package task owns pick and place work items and their lifecycle.
package task

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound   = fmt.Errorf("task %w", apperr.ErrNotFound)
	ErrTaskFinished   = fmt.Errorf("task is already finished: %w", apperr.ErrInvalidTransition)
	ErrInvalidType    = fmt.Errorf("task type must be picking or placing: %w", apperr.ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("task status must be completed or canceled: %w", apperr.ErrValidation)
	ErrMissingOwner   = fmt.Errorf("task must belong to a posting or an acceptance: %w", apperr.ErrValidation)
	ErrPickingOwner   = fmt.Errorf("picking task must belong to a posting only: %w", apperr.ErrValidation)
	ErrTargetNotFound = fmt.Errorf("task target %w", apperr.ErrNotFound)
)

// validTransitions defines allowed status transitions
var validTransitions = map[model.TaskStatus][]model.TaskStatus{
	model.TaskInWork:    {model.TaskCompleted, model.TaskCanceled},
	model.TaskCompleted: {}, // terminal state
	model.TaskCanceled:  {}, // terminal state
}

// CanTransition checks if a task may move between the two statuses
func CanTransition(from, to model.TaskStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// NewTask describes a task to create. Status defaults to in_work.
type NewTask struct {
	Type         model.TaskType
	Status       model.TaskStatus
	TargetItemID uuid.UUID
	TargetStock  model.StockState
	PostingID    uuid.NullUUID
	AcceptanceID uuid.NullUUID
}

func (n NewTask) validate() error {
	if !n.Type.Valid() {
		return ErrInvalidType
	}
	if n.Status != "" && !n.Status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, n.Status)
	}
	if !n.PostingID.Valid && !n.AcceptanceID.Valid {
		return ErrMissingOwner
	}
	if n.Type == model.TaskPicking && (!n.PostingID.Valid || n.AcceptanceID.Valid) {
		return ErrPickingOwner
	}
	return nil
}

type Ledger struct {
	inventory *inventory.Ledger
	logger    *zap.Logger
}

func NewLedger(inv *inventory.Ledger, logger *zap.Logger) *Ledger {
	return &Ledger{inventory: inv, logger: logger}
}

func (l *Ledger) Create(ctx context.Context, tx store.Tx, n NewTask) (*model.Task, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	if n.Status == "" {
		n.Status = model.TaskInWork
	}
	t := &model.Task{
		ID:           uuid.New(),
		Type:         n.Type,
		Status:       n.Status,
		TargetItemID: n.TargetItemID,
		TargetStock:  n.TargetStock,
		PostingID:    n.PostingID,
		AcceptanceID: n.AcceptanceID,
	}
	if _, err := tx.Items().Get(ctx, n.TargetItemID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, n.TargetItemID)
		}
		return nil, fmt.Errorf("get task target %s: %w", n.TargetItemID, err)
	}
	if err := tx.Tasks().Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create %s task: %w", t.Type, err)
	}
	return t, nil
}

// Complete moves an in_work task to completed.
func (l *Ledger) Complete(ctx context.Context, tx store.Tx, taskID uuid.UUID) (*model.Task, error) {
	return l.Finish(ctx, tx, taskID, model.TaskCompleted)
}

// Cancel moves an in_work task to canceled. A canceled picking task gives
// up the reservation of its target.
func (l *Ledger) Cancel(ctx context.Context, tx store.Tx, taskID uuid.UUID) (*model.Task, error) {
	return l.Finish(ctx, tx, taskID, model.TaskCanceled)
}

// Finish moves the task into the terminal status to.
func (l *Ledger) Finish(ctx context.Context, tx store.Tx, taskID uuid.UUID, to model.TaskStatus) (*model.Task, error) {
	if to != model.TaskCompleted && to != model.TaskCanceled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, to)
	}
	t, err := l.Get(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskFinished, taskID, t.Status)
	}

	ok, err := tx.Tasks().UpdateStatus(ctx, taskID, t.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrTaskFinished, taskID)
	}
	t.Status = to

	if to == model.TaskCanceled && t.Type == model.TaskPicking {
		if err := l.inventory.ReleaseUnit(ctx, tx, t.TargetItemID); err != nil {
			return nil, err
		}
	}

	eventType := EventTaskCompleted
	if to == model.TaskCanceled {
		eventType = EventTaskCanceled
	}
	ev, err := outbox.NewEvent(ctx, AggregateType, t.ID.String(), eventType, TaskFinished{
		TaskID:       t.ID,
		Type:         t.Type,
		Status:       t.Status,
		TargetItemID: t.TargetItemID,
		PostingID:    t.PostingID,
		AcceptanceID: t.AcceptanceID,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Outbox().Add(ctx, ev); err != nil {
		return nil, err
	}

	l.logger.Info("task finished",
		zap.String("task_id", t.ID.String()),
		zap.String("type", string(t.Type)),
		zap.String("status", string(t.Status)),
	)
	return t, nil
}

// Retarget points an in_work task at a different item.
func (l *Ledger) Retarget(ctx context.Context, tx store.Tx, taskID, itemID uuid.UUID) error {
	err := tx.Tasks().Retarget(ctx, taskID, itemID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return fmt.Errorf("retarget task %s: %w", taskID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, tx store.Tx, taskID uuid.UUID) (*model.Task, error) {
	t, err := tx.Tasks().Get(ctx, taskID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return t, nil
}

func (l *Ledger) ListByPosting(ctx context.Context, tx store.Tx, postingID uuid.UUID) ([]model.Task, error) {
	tasks, err := tx.Tasks().ListByPosting(ctx, postingID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of posting %s: %w", postingID, err)
	}
	return tasks, nil
}

func (l *Ledger) ListByAcceptance(ctx context.Context, tx store.Tx, acceptanceID uuid.UUID) ([]model.Task, error) {
	tasks, err := tx.Tasks().ListByAcceptance(ctx, acceptanceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of acceptance %s: %w", acceptanceID, err)
	}
	return tasks, nil
}

// ListInWorkPicks returns in_work picking tasks whose target is itemID.
func (l *Ledger) ListInWorkPicks(ctx context.Context, tx store.Tx, itemID uuid.UUID) ([]model.Task, error) {
	tasks, err := tx.Tasks().ListInWorkPicks(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list picks of item %s: %w", itemID, err)
	}
	return tasks, nil
}
