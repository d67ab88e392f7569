package posting

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store/mocks"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	ms    *mocks.MockStore
	inv   *inventory.Ledger
	tasks *task.Ledger
	wf    *Workflow
}

func newTestEnv() *testEnv {
	inv := inventory.NewLedger(pricing.NewEngine(zap.NewNop()), zap.NewNop())
	tasks := task.NewLedger(inv, zap.NewNop())
	return &testEnv{
		ms:    mocks.NewMockStore(),
		inv:   inv,
		tasks: tasks,
		wf:    NewWorkflow(inv, tasks, zap.NewNop()),
	}
}

// seedSku creates a SKU priced at price with one unit per stock entry.
func (e *testEnv) seedSku(t *testing.T, price string, stocks ...model.StockState) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	skuID := uuid.New()
	var ids []uuid.UUID
	p := decimal.RequireFromString(price)
	e.ms.Seed(func(tx store.Tx) error {
		ctx := context.Background()
		require.NoError(t, tx.Skus().Create(ctx, &model.Sku{ID: skuID, BasePrice: p, ActualPrice: p, Count: len(stocks)}))
		for _, st := range stocks {
			it := &model.Item{ID: uuid.New(), SkuID: skuID, Stock: st}
			require.NoError(t, tx.Items().Create(ctx, it))
			ids = append(ids, it.ID)
		}
		return nil
	})
	return skuID, ids
}

func (e *testEnv) create(lines ...LineRequest) (*model.Posting, error) {
	var p *model.Posting
	err := e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = e.wf.Create(context.Background(), tx, lines)
		return err
	})
	return p, err
}

func (e *testEnv) send(id uuid.UUID) (*model.Posting, error) {
	var p *model.Posting
	err := e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = e.wf.Send(context.Background(), tx, id)
		return err
	})
	return p, err
}

func (e *testEnv) cancel(id uuid.UUID) (*model.Posting, error) {
	var p *model.Posting
	err := e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = e.wf.Cancel(context.Background(), tx, id)
		return err
	})
	return p, err
}

func (e *testEnv) completeAll(t *testing.T, tasks []model.Task) {
	t.Helper()
	require.NoError(t, e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		for _, tk := range tasks {
			if tk.Status != model.TaskInWork {
				continue
			}
			if _, err := e.tasks.Complete(context.Background(), tx, tk.ID); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (e *testEnv) item(t *testing.T, id uuid.UUID) model.Item {
	t.Helper()
	for _, it := range e.ms.Items() {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not found", id)
	return model.Item{}
}

// assertReservationInvariant checks that every reserved unit is the target
// of exactly one in_work picking task. Units stay reserved after their pick
// completes and after the posting is sent, so it only applies while every
// posting holding units is in item pick.
func (e *testEnv) assertReservationInvariant(t *testing.T) {
	t.Helper()
	picks := make(map[uuid.UUID]int)
	for _, tk := range e.ms.Tasks() {
		if tk.Type == model.TaskPicking && tk.Status == model.TaskInWork {
			picks[tk.TargetItemID]++
		}
	}
	for _, it := range e.ms.Items() {
		if it.Reserved {
			assert.Equal(t, 1, picks[it.ID], "reserved item %s", it.ID)
		} else {
			assert.Zero(t, picks[it.ID], "unreserved item %s has in_work picks", it.ID)
		}
	}
}

func valid(sku uuid.UUID, ids ...uuid.UUID) LineRequest {
	return LineRequest{SkuID: sku, FromValidIDs: ids}
}

// ============================================
// Transition Tests
// ============================================

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.PostingInItemPick, model.PostingSent))
	assert.True(t, CanTransition(model.PostingInItemPick, model.PostingCanceled))
	assert.False(t, CanTransition(model.PostingSent, model.PostingCanceled))
	assert.False(t, CanTransition(model.PostingCanceled, model.PostingSent))
}

// ============================================
// Create Tests
// ============================================

func TestCreate_ReservesRequestedUnits(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "12.50", model.StockValid, model.StockValid, model.StockValid)

	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)

	assert.Equal(t, model.PostingInItemPick, p.Status)
	assert.True(t, decimal.RequireFromString("37.50").Equal(p.Cost))
	assert.Empty(t, p.Shortfalls)
	require.Len(t, p.Tasks, 3)
	for i, tk := range p.Tasks {
		assert.Equal(t, model.TaskPicking, tk.Type)
		assert.Equal(t, model.TaskInWork, tk.Status)
		assert.Equal(t, ids[i], tk.TargetItemID)
		assert.Equal(t, model.StockValid, tk.TargetStock)
		assert.True(t, e.item(t, ids[i]).Reserved)
	}
	assert.Equal(t, []string{EventPostingCreated}, e.ms.EventTypes())
	e.assertReservationInvariant(t)
}

func TestCreate_LocksRequestedUnitsInIDOrder(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "1.00", model.StockValid, model.StockValid, model.StockDefect)
	reversed := []uuid.UUID{ids[1], ids[0]}

	p, err := e.create(
		valid(sku, reversed...),
		LineRequest{SkuID: sku, FromDefectIDs: []uuid.UUID{ids[2]}, FromValidIDs: []uuid.UUID{ids[0]}},
	)
	require.NoError(t, err)

	require.Len(t, e.ms.LockedItems, 1)
	locked := e.ms.LockedItems[0]
	assert.ElementsMatch(t, ids, locked, "each requested unit is locked once")
	assert.True(t, slices.IsSortedFunc(locked, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }))
	assert.Equal(t, ids[1], p.Tasks[0].TargetItemID, "reservation keeps request order")
}

func TestCreate_SubstitutesReservedUnit(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid, model.StockValid)
	_, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	p, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	require.Len(t, p.Tasks, 1)
	assert.Equal(t, ids[1], p.Tasks[0].TargetItemID, "lowest-seq available unit")
	assert.Equal(t, model.TaskInWork, p.Tasks[0].Status)
	assert.True(t, decimal.RequireFromString("10.00").Equal(p.Cost))
	assert.Empty(t, p.Shortfalls)
	e.assertReservationInvariant(t)
}

func TestCreate_ShortfallWhenNoSubstitute(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	_, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	p, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	assert.True(t, p.Cost.IsZero())
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, model.TaskCanceled, p.Tasks[0].Status)
	assert.Equal(t, model.StockValid, p.Tasks[0].TargetStock)

	require.Len(t, p.Shortfalls, 1)
	s := p.Shortfalls[0]
	assert.Equal(t, ids[0], s.RequestedItemID)
	require.True(t, s.StubItemID.Valid)
	assert.Equal(t, s.StubItemID.UUID, p.Tasks[0].TargetItemID)

	stub := e.item(t, s.StubItemID.UUID)
	assert.Equal(t, model.StockNotFound, stub.Stock)
	assert.Equal(t, sku, stub.SkuID)
	assert.False(t, stub.Reserved)
	e.assertReservationInvariant(t)
}

func TestCreate_DefectNeverSatisfiesValidLine(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockDefect, model.StockValid)

	p, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	require.Len(t, p.Tasks, 1)
	assert.Equal(t, ids[1], p.Tasks[0].TargetItemID)
	assert.False(t, e.item(t, ids[0]).Reserved)
}

func TestCreate_DefectLineUsesDefectStock(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockDefect, model.StockDefect)

	p, err := e.create(LineRequest{SkuID: sku, FromDefectIDs: []uuid.UUID{ids[0], ids[2]}})
	require.NoError(t, err)

	require.Len(t, p.Tasks, 2)
	assert.Equal(t, ids[1], p.Tasks[0].TargetItemID, "valid id substituted by defect unit")
	assert.Equal(t, model.StockDefect, p.Tasks[0].TargetStock)
	assert.Equal(t, ids[2], p.Tasks[1].TargetItemID)
	assert.False(t, e.item(t, ids[0]).Reserved)
}

func TestCreate_UnknownItemIsSubstituted(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)

	p, err := e.create(valid(sku, uuid.New()))
	require.NoError(t, err)

	require.Len(t, p.Tasks, 1)
	assert.Equal(t, ids[0], p.Tasks[0].TargetItemID)
}

func TestCreate_MixedLines(t *testing.T) {
	e := newTestEnv()
	skuA, a := e.seedSku(t, "3.00", model.StockValid, model.StockValid)
	skuB, b := e.seedSku(t, "7.25", model.StockDefect)

	p, err := e.create(
		valid(skuA, a...),
		LineRequest{SkuID: skuB, FromDefectIDs: b},
		valid(skuB, uuid.New()),
	)
	require.NoError(t, err)

	assert.Len(t, p.OrderLines, 3)
	assert.Len(t, p.Tasks, 4)
	assert.Len(t, p.Shortfalls, 1)
	assert.True(t, decimal.RequireFromString("13.25").Equal(p.Cost))
}

func TestCreate_UnknownSku(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)

	_, err := e.create(valid(sku, ids...), valid(uuid.New(), uuid.New()))

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, e.item(t, ids[0]).Reserved, "rolled back")
	assert.Empty(t, e.ms.Tasks())
}

func TestCreate_Empty(t *testing.T) {
	e := newTestEnv()

	_, err := e.create()
	assert.ErrorIs(t, err, ErrEmptyPosting)

	_, err = e.create(LineRequest{SkuID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCreate_ConcurrentPostingsSameUnit(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*model.Posting, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.create(valid(sku, ids[0]))
		}(i)
	}
	wg.Wait()

	holders, substitutes, shortfalls := 0, 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		switch {
		case len(results[i].Shortfalls) == 1:
			shortfalls++
		case results[i].Tasks[0].TargetItemID == ids[0]:
			holders++
		default:
			substitutes++
		}
	}
	assert.Equal(t, 1, holders)
	assert.Equal(t, 1, substitutes)
	assert.Equal(t, 2, shortfalls)
	e.assertReservationInvariant(t)
}

// ============================================
// Send Tests
// ============================================

func TestSend(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid, model.StockValid)
	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)

	_, err = e.send(p.ID)
	assert.ErrorIs(t, err, ErrIncompleteTasks)

	e.completeAll(t, p.Tasks)
	sent, err := e.send(p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PostingSent, sent.Status)

	skus := e.ms.Skus()
	require.Len(t, skus, 1)
	assert.Equal(t, 0, skus[0].Count)

	_, err = e.send(p.ID)
	assert.ErrorIs(t, err, ErrPostingFinished)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestSend_WithShortfallNeverShips(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids[0], uuid.New()))
	require.NoError(t, err)
	require.Len(t, p.Shortfalls, 1)

	e.completeAll(t, p.Tasks)
	_, err = e.send(p.ID)

	assert.ErrorIs(t, err, ErrIncompleteTasks)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSend_CanceledPosting(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)
	_, err = e.cancel(p.ID)
	require.NoError(t, err)

	_, err = e.send(p.ID)

	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestSend_Unknown(t *testing.T) {
	e := newTestEnv()

	_, err := e.send(uuid.New())

	assert.ErrorIs(t, err, ErrPostingNotFound)
}

// ============================================
// Cancel Tests
// ============================================

func TestCancel_ReleasesAndCompensates(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid)
	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)
	e.completeAll(t, p.Tasks[:1])

	canceled, err := e.cancel(p.ID)
	require.NoError(t, err)

	assert.Equal(t, model.PostingCanceled, canceled.Status)
	for _, id := range ids {
		assert.False(t, e.item(t, id).Reserved)
	}

	var picks, placings []model.Task
	for _, tk := range canceled.Tasks {
		if tk.Type == model.TaskPicking {
			picks = append(picks, tk)
		} else {
			placings = append(placings, tk)
		}
	}
	require.Len(t, picks, 2)
	assert.Equal(t, model.TaskCompleted, picks[0].Status)
	assert.Equal(t, model.TaskCanceled, picks[1].Status)
	require.Len(t, placings, 2)
	for _, tk := range placings {
		assert.Equal(t, model.TaskInWork, tk.Status)
		assert.Equal(t, p.ID, tk.PostingID.UUID)
	}
	assert.ElementsMatch(t, ids, []uuid.UUID{placings[0].TargetItemID, placings[1].TargetItemID})
	e.assertReservationInvariant(t)
}

func TestCancel_LocksPickTargets(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid)
	p, err := e.create(valid(sku, ids[1], ids[0]))
	require.NoError(t, err)

	_, err = e.cancel(p.ID)
	require.NoError(t, err)

	require.Len(t, e.ms.LockedItems, 2)
	assert.ElementsMatch(t, ids, e.ms.LockedItems[1])
}

func TestCancel_ShortfallStubGetsNoPlacing(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids[0], uuid.New()))
	require.NoError(t, err)

	canceled, err := e.cancel(p.ID)
	require.NoError(t, err)

	var placings int
	for _, tk := range canceled.Tasks {
		if tk.Type == model.TaskPlacing {
			placings++
			assert.Equal(t, ids[0], tk.TargetItemID)
		}
	}
	assert.Equal(t, 1, placings)
}

func TestCancel_TwiceIsInvalidState(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)
	_, err = e.cancel(p.ID)
	require.NoError(t, err)

	_, err = e.cancel(p.ID)

	assert.ErrorIs(t, err, ErrNotCancelable)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCancel_SentIsInvalidState(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids...))
	require.NoError(t, err)
	e.completeAll(t, p.Tasks)
	_, err = e.send(p.ID)
	require.NoError(t, err)

	_, err = e.cancel(p.ID)

	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.True(t, e.item(t, ids[0]).Reserved, "shipped unit stays out of stock")
}

func TestCancelThenRecreate(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid)
	first, err := e.create(valid(sku, ids...))
	require.NoError(t, err)
	_, err = e.cancel(first.ID)
	require.NoError(t, err)

	second, err := e.create(valid(sku, ids...))
	require.NoError(t, err)

	assert.Empty(t, second.Shortfalls)
	require.Len(t, second.Tasks, 2)
	assert.Equal(t, ids[0], second.Tasks[0].TargetItemID)
	assert.Equal(t, ids[1], second.Tasks[1].TargetItemID)
	e.assertReservationInvariant(t)
}

// ============================================
// ReassignPicks Tests
// ============================================

func TestReassignPicks_Substitute(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid, model.StockValid)
	p, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	err = e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		ctx := context.Background()
		if _, _, err := e.inv.MarkDefect(ctx, tx, ids[0], 20); err != nil {
			return err
		}
		changed, err := e.wf.ReassignPicks(ctx, tx, ids[0])
		require.Len(t, changed, 1)
		assert.Equal(t, ids[1], changed[0].TargetItemID)
		return err
	})
	require.NoError(t, err)

	assert.False(t, e.item(t, ids[0]).Reserved)
	assert.True(t, e.item(t, ids[1]).Reserved)
	var got *model.Posting
	require.NoError(t, e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		got, err = e.wf.Get(context.Background(), tx, p.ID)
		return err
	}))
	assert.Equal(t, ids[1], got.Tasks[0].TargetItemID)
	assert.Equal(t, model.TaskInWork, got.Tasks[0].Status)
	e.assertReservationInvariant(t)
}

func TestReassignPicks_NoSubstituteCancels(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockValid)
	p, err := e.create(valid(sku, ids[0]))
	require.NoError(t, err)

	err = e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		ctx := context.Background()
		if _, _, err := e.inv.MarkNotFound(ctx, tx, ids[0]); err != nil {
			return err
		}
		_, err := e.wf.ReassignPicks(ctx, tx, ids[0])
		return err
	})
	require.NoError(t, err)

	var got *model.Posting
	require.NoError(t, e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		got, err = e.wf.Get(context.Background(), tx, p.ID)
		return err
	}))
	assert.Equal(t, model.TaskCanceled, got.Tasks[0].Status)
	require.Len(t, got.Shortfalls, 1)
	assert.Equal(t, ids[0], got.Shortfalls[0].RequestedItemID)
	assert.False(t, got.Shortfalls[0].StubItemID.Valid)
	assert.False(t, e.item(t, ids[0]).Reserved)
	e.assertReservationInvariant(t)
}

func TestReassignPicks_MatchingStockUntouched(t *testing.T) {
	e := newTestEnv()
	sku, ids := e.seedSku(t, "10.00", model.StockDefect)
	_, err := e.create(LineRequest{SkuID: sku, FromDefectIDs: ids})
	require.NoError(t, err)

	err = e.ms.WithTx(context.Background(), func(tx store.Tx) error {
		changed, err := e.wf.ReassignPicks(context.Background(), tx, ids[0])
		assert.Empty(t, changed)
		return err
	})
	require.NoError(t, err)
	assert.True(t, e.item(t, ids[0]).Reserved)
}
