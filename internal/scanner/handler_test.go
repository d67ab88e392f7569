package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/kafka"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store/mocks"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeduper struct {
	seen      map[string]bool
	forgotten []string
}

func (d *fakeDeduper) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%d:%d", topic, partition, offset)
}

func (d *fakeDeduper) Seen(_ context.Context, key string) (bool, error) {
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

func (d *fakeDeduper) Forget(_ context.Context, key string) error {
	delete(d.seen, key)
	d.forgotten = append(d.forgotten, key)
	return nil
}

type env struct {
	handler *Handler
	cmd     *command.Handler
	ms      *mocks.MockStore
	dedup   *fakeDeduper
}

func newTestHandler() *env {
	ms := mocks.NewMockStore()
	logger := zap.NewNop()
	engine := pricing.NewEngine(logger)
	inv := inventory.NewLedger(engine, logger)
	tasks := task.NewLedger(inv, logger)
	cmd := command.NewHandler(ms, inv, tasks,
		acceptance.NewWorkflow(inv, tasks, logger),
		posting.NewWorkflow(inv, tasks, logger),
		discount.NewWorkflow(engine, logger),
		logger,
	)
	dedup := &fakeDeduper{seen: make(map[string]bool)}
	return &env{handler: NewHandler(cmd, dedup, logger), cmd: cmd, ms: ms, dedup: dedup}
}

func (e *env) placingTask(t *testing.T) uuid.UUID {
	t.Helper()
	a, err := e.cmd.CreateAcceptance(context.Background(), command.CreateAcceptance{
		Lines: []command.AcceptanceLine{{SkuID: uuid.New(), Stock: model.StockValid, Count: 1}},
	})
	require.NoError(t, err)
	return a.Tasks[0].ID
}

func message(t *testing.T, offset int64, body any) kafka.Message {
	t.Helper()
	value, err := json.Marshal(body)
	require.NoError(t, err)
	return kafka.Message{Topic: "scanner-tasks", Partition: 0, Offset: offset, Value: value}
}

func taskStatus(t *testing.T, ms *mocks.MockStore, id uuid.UUID) model.TaskStatus {
	t.Helper()
	for _, tk := range ms.Tasks() {
		if tk.ID == id {
			return tk.Status
		}
	}
	t.Fatalf("task %s not found", id)
	return ""
}

func TestHandleMessage_CompletesTask(t *testing.T) {
	e := newTestHandler()
	id := e.placingTask(t)

	err := e.handler.HandleMessage(context.Background(), message(t, 1, TaskFinished{TaskID: id, Status: model.TaskCompleted}))

	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, taskStatus(t, e.ms, id))
}

func TestHandleMessage_DuplicateDeliverySkipped(t *testing.T) {
	e := newTestHandler()
	id := e.placingTask(t)
	msg := message(t, 7, TaskFinished{TaskID: id, Status: model.TaskCompleted})
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg))
	txCalls := e.ms.TxCalls

	err := e.handler.HandleMessage(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, txCalls, e.ms.TxCalls)
}

func TestHandleMessage_RejectedMessagesDropped(t *testing.T) {
	e := newTestHandler()
	id := e.placingTask(t)
	ctx := context.Background()
	require.NoError(t, e.handler.HandleMessage(ctx, message(t, 1, TaskFinished{TaskID: id, Status: model.TaskCanceled})))

	assert.NoError(t, e.handler.HandleMessage(ctx, message(t, 2, TaskFinished{TaskID: id, Status: model.TaskCompleted})))
	assert.NoError(t, e.handler.HandleMessage(ctx, message(t, 3, TaskFinished{TaskID: uuid.New(), Status: model.TaskCompleted})))
	assert.NoError(t, e.handler.HandleMessage(ctx, kafka.Message{Topic: "scanner-tasks", Offset: 4, Value: []byte("{")}))

	assert.Equal(t, model.TaskCanceled, taskStatus(t, e.ms, id))
	assert.Empty(t, e.dedup.forgotten)
}

func TestHandleMessage_StoreFailureIsRetryable(t *testing.T) {
	e := newTestHandler()
	id := e.placingTask(t)
	e.ms.CommitErr = errors.New("connection reset")
	msg := message(t, 9, TaskFinished{TaskID: id, Status: model.TaskCompleted})

	err := e.handler.HandleMessage(context.Background(), msg)

	require.Error(t, err)
	assert.Len(t, e.dedup.forgotten, 1)

	require.NoError(t, e.handler.HandleMessage(context.Background(), msg))
	assert.Equal(t, model.TaskCompleted, taskStatus(t, e.ms, id))
}
