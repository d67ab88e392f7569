// Package scanner applies task completions reported by handheld scanners.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/kafka"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskFinished is the scanner message body.
type TaskFinished struct {
	TaskID uuid.UUID        `json:"task_id"`
	Status model.TaskStatus `json:"status"`
}

type TaskFinisher interface {
	FinishTask(ctx context.Context, cmd command.FinishTask) (*model.Task, error)
}

// Deduper tracks delivered messages by topic, partition and offset.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	tasks  TaskFinisher
	dedup  Deduper
	logger *zap.Logger
}

func NewHandler(tasks TaskFinisher, dedup Deduper, logger *zap.Logger) *Handler {
	return &Handler{tasks: tasks, dedup: dedup, logger: logger}
}

// HandleMessage finishes the task named in msg. Redeliveries are skipped.
// Messages that can never succeed (malformed, unknown task, already
// finished) are logged and dropped; store failures are returned and the
// delivery is forgotten so it can be retried.
func (h *Handler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	key := h.dedup.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := h.dedup.Seen(ctx, key)
	if err != nil {
		return err
	}
	if seen {
		h.logger.Debug("duplicate scanner message", zap.String("key", key))
		return nil
	}

	var body TaskFinished
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		h.logger.Warn("malformed scanner message", zap.String("key", key), zap.Error(err))
		return nil
	}

	t, err := h.tasks.FinishTask(ctx, command.FinishTask{TaskID: body.TaskID, Status: body.Status})
	switch apperr.Kind(err) {
	case "":
		h.logger.Info("task finished from scanner",
			zap.String("task_id", t.ID.String()),
			zap.String("status", string(t.Status)),
		)
		return nil
	case apperr.CategoryInternal:
		if ferr := h.dedup.Forget(ctx, key); ferr != nil {
			h.logger.Error("forget scanner message", zap.String("key", key), zap.Error(ferr))
		}
		return fmt.Errorf("finish task %s: %w", body.TaskID, err)
	default:
		h.logger.Warn("scanner message rejected",
			zap.String("task_id", body.TaskID.String()),
			zap.String("kind", string(apperr.Kind(err))),
			zap.Error(err),
		)
		return nil
	}
}
