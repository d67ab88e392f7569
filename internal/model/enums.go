package model

// StockState is the availability class of a physical item.
type StockState string

const (
	StockValid    StockState = "valid"
	StockDefect   StockState = "defect"
	StockNotFound StockState = "not_found"
)

func (s StockState) Valid() bool {
	switch s {
	case StockValid, StockDefect, StockNotFound:
		return true
	}
	return false
}

// Sourceable reports whether order lines and acceptances may name this
// stock class. not_found only ever appears on stub items.
func (s StockState) Sourceable() bool {
	return s == StockValid || s == StockDefect
}

// TaskType distinguishes removal from storage and storage.
type TaskType string

const (
	TaskPicking TaskType = "picking"
	TaskPlacing TaskType = "placing"
)

func (t TaskType) Valid() bool {
	return t == TaskPicking || t == TaskPlacing
}

type TaskStatus string

const (
	TaskInWork    TaskStatus = "in_work"
	TaskCompleted TaskStatus = "completed"
	TaskCanceled  TaskStatus = "canceled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskInWork, TaskCompleted, TaskCanceled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCanceled
}

type PostingStatus string

const (
	PostingInItemPick PostingStatus = "in_item_pick"
	PostingSent       PostingStatus = "sent"
	PostingCanceled   PostingStatus = "canceled"
)

func (s PostingStatus) Valid() bool {
	switch s {
	case PostingInItemPick, PostingSent, PostingCanceled:
		return true
	}
	return false
}

func (s PostingStatus) Terminal() bool {
	return s == PostingSent || s == PostingCanceled
}

type DiscountStatus string

const (
	DiscountActive   DiscountStatus = "active"
	DiscountFinished DiscountStatus = "finished"
)

func (s DiscountStatus) Valid() bool {
	return s == DiscountActive || s == DiscountFinished
}
