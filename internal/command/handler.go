package command

import (
	"context"
	"fmt"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrInvalidFinishStatus = fmt.Errorf("task can only be finished as completed or canceled: %w", apperr.ErrValidation)

// Handler runs each workflow action in its own transaction.
type Handler struct {
	store       store.Store
	inventory   *inventory.Ledger
	tasks       *task.Ledger
	acceptances *acceptance.Workflow
	postings    *posting.Workflow
	discounts   *discount.Workflow
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewHandler(
	st store.Store,
	inv *inventory.Ledger,
	tasks *task.Ledger,
	acceptances *acceptance.Workflow,
	postings *posting.Workflow,
	discounts *discount.Workflow,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:       st,
		inventory:   inv,
		tasks:       tasks,
		acceptances: acceptances,
		postings:    postings,
		discounts:   discounts,
		logger:      logger,
		tracer:      otel.Tracer("command"),
	}
}

// run wraps fn in a span and a single transaction.
func (h *Handler) run(ctx context.Context, name string, fn func(ctx context.Context, tx store.Tx) error, attrs ...attribute.KeyValue) error {
	ctx, span := h.tracer.Start(ctx, "command."+name, trace.WithAttributes(attrs...))
	defer span.End()

	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.Kind(err)))
		h.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateAcceptance records inbound goods and issues placing tasks
func (h *Handler) CreateAcceptance(ctx context.Context, cmd CreateAcceptance) (*model.Acceptance, error) {
	lines := make([]acceptance.Line, 0, len(cmd.Lines))
	for _, l := range cmd.Lines {
		lines = append(lines, acceptance.Line{SkuID: l.SkuID, Stock: l.Stock, Count: l.Count})
	}

	var a *model.Acceptance
	err := h.run(ctx, "create_acceptance", func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = h.acceptances.Create(ctx, tx, lines)
		return err
	}, attribute.Int("acceptance.lines", len(lines)))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreatePosting reserves the requested units and issues picking tasks.
// Unmet lines are reported as shortfalls on the returned posting.
func (h *Handler) CreatePosting(ctx context.Context, cmd CreatePosting) (*model.Posting, error) {
	lines := make([]posting.LineRequest, 0, len(cmd.OrderLines))
	for _, l := range cmd.OrderLines {
		lines = append(lines, posting.LineRequest{
			SkuID:         l.SkuID,
			FromValidIDs:  l.FromValidIDs,
			FromDefectIDs: l.FromDefectIDs,
		})
	}

	var p *model.Posting
	err := h.run(ctx, "create_posting", func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = h.postings.Create(ctx, tx, lines)
		return err
	}, attribute.Int("posting.lines", len(lines)))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) SendPosting(ctx context.Context, cmd SendPosting) (*model.Posting, error) {
	var p *model.Posting
	err := h.run(ctx, "send_posting", func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = h.postings.Send(ctx, tx, cmd.PostingID)
		return err
	}, attribute.String("posting.id", cmd.PostingID.String()))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) CancelPosting(ctx context.Context, cmd CancelPosting) (*model.Posting, error) {
	var p *model.Posting
	err := h.run(ctx, "cancel_posting", func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = h.postings.Cancel(ctx, tx, cmd.PostingID)
		return err
	}, attribute.String("posting.id", cmd.PostingID.String()))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FinishTask moves an in_work task to completed or canceled
func (h *Handler) FinishTask(ctx context.Context, cmd FinishTask) (*model.Task, error) {
	if cmd.Status != model.TaskCompleted && cmd.Status != model.TaskCanceled {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFinishStatus, cmd.Status)
	}

	var t *model.Task
	err := h.run(ctx, "finish_task", func(ctx context.Context, tx store.Tx) error {
		var err error
		t, err = h.tasks.Finish(ctx, tx, cmd.TaskID, cmd.Status)
		return err
	},
		attribute.String("task.id", cmd.TaskID.String()),
		attribute.String("task.status", string(cmd.Status)),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarkdownItem moves an item to defect, reprices its SKU and re-targets
// picking tasks that expected it as a valid unit.
func (h *Handler) MarkdownItem(ctx context.Context, cmd MarkdownItem) (*ItemChange, error) {
	var res ItemChange
	err := h.run(ctx, "markdown_item", func(ctx context.Context, tx store.Tx) error {
		item, changed, err := h.inventory.MarkDefect(ctx, tx, cmd.ItemID, cmd.Percentage)
		if err != nil {
			return err
		}
		res = ItemChange{Item: item, Changed: changed}
		if !changed {
			return nil
		}
		res.Reassign, err = h.postings.ReassignPicks(ctx, tx, cmd.ItemID)
		return err
	},
		attribute.String("item.id", cmd.ItemID.String()),
		attribute.Int("item.markdown_percentage", cmd.Percentage),
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MoveToNotFound marks an item as lost and re-targets its picking tasks
func (h *Handler) MoveToNotFound(ctx context.Context, cmd MoveToNotFound) (*ItemChange, error) {
	var res ItemChange
	err := h.run(ctx, "move_to_not_found", func(ctx context.Context, tx store.Tx) error {
		item, changed, err := h.inventory.MarkNotFound(ctx, tx, cmd.ItemID)
		if err != nil {
			return err
		}
		res = ItemChange{Item: item, Changed: changed}
		if !changed {
			return nil
		}
		res.Reassign, err = h.postings.ReassignPicks(ctx, tx, cmd.ItemID)
		return err
	}, attribute.String("item.id", cmd.ItemID.String()))
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *Handler) SetSkuPrice(ctx context.Context, cmd SetSkuPrice) (*model.Sku, error) {
	var sku *model.Sku
	err := h.run(ctx, "set_sku_price", func(ctx context.Context, tx store.Tx) error {
		if err := h.inventory.SetBasePrice(ctx, tx, cmd.SkuID, cmd.Price); err != nil {
			return err
		}
		var err error
		sku, err = h.inventory.GetSku(ctx, tx, cmd.SkuID)
		return err
	},
		attribute.String("sku.id", cmd.SkuID.String()),
		attribute.String("sku.base_price", cmd.Price.StringFixed(2)),
	)
	if err != nil {
		return nil, err
	}
	return sku, nil
}

func (h *Handler) ToggleHidden(ctx context.Context, cmd ToggleHidden) (*model.Sku, error) {
	var sku *model.Sku
	err := h.run(ctx, "toggle_hidden", func(ctx context.Context, tx store.Tx) error {
		if err := h.inventory.SetHidden(ctx, tx, cmd.SkuID, cmd.Hidden); err != nil {
			return err
		}
		var err error
		sku, err = h.inventory.GetSku(ctx, tx, cmd.SkuID)
		return err
	},
		attribute.String("sku.id", cmd.SkuID.String()),
		attribute.Bool("sku.hidden", cmd.Hidden),
	)
	if err != nil {
		return nil, err
	}
	return sku, nil
}

func (h *Handler) CreateDiscount(ctx context.Context, cmd CreateDiscount) (*model.Discount, error) {
	var d *model.Discount
	err := h.run(ctx, "create_discount", func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = h.discounts.Create(ctx, tx, cmd.SkuIDs, cmd.Percentage)
		return err
	},
		attribute.Int("discount.skus", len(cmd.SkuIDs)),
		attribute.Int("discount.percentage", cmd.Percentage),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (h *Handler) CancelDiscount(ctx context.Context, cmd CancelDiscount) (*model.Discount, error) {
	var d *model.Discount
	err := h.run(ctx, "cancel_discount", func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = h.discounts.Cancel(ctx, tx, cmd.DiscountID)
		return err
	}, attribute.String("discount.id", cmd.DiscountID.String()))
	if err != nil {
		return nil, err
	}
	return d, nil
}
