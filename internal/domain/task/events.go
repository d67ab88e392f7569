package task

import (
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
)

const AggregateType = "task"

const (
	EventTaskCompleted = "task.completed"
	EventTaskCanceled  = "task.canceled"
)

// TaskFinished is the payload of both task events.
type TaskFinished struct {
	TaskID       uuid.UUID        `json:"task_id"`
	Type         model.TaskType   `json:"type"`
	Status       model.TaskStatus `json:"status"`
	TargetItemID uuid.UUID        `json:"target_item_id"`
	PostingID    uuid.NullUUID    `json:"posting_id"`
	AcceptanceID uuid.NullUUID    `json:"acceptance_id"`
}
