package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockStore is an in-memory store.Store for testing. Transactions run one at
// a time against a copy of the state that replaces the committed state only
// when the callback succeeds.
type MockStore struct {
	mu    sync.Mutex
	state *memState
	seq   int64

	// CommitErr, when set, makes the next commit fail and roll back.
	CommitErr error

	// For tracking calls in tests
	TxCalls     int
	Commits     int
	Rollbacks   int
	MarkedSent  []int64
	MarkedFails []int64
	LockedItems [][]uuid.UUID
}

type memState struct {
	skus        map[uuid.UUID]model.Sku
	items       map[uuid.UUID]model.Item
	tasks       map[uuid.UUID]model.Task
	taskSeq     map[uuid.UUID]int64
	postings    map[uuid.UUID]model.Posting
	orderLines  []model.OrderLine
	shortfalls  []model.Shortfall
	acceptances map[uuid.UUID]model.Acceptance
	accepted    []model.AcceptedItem
	discounts   map[uuid.UUID]model.Discount
	outbox      []outbox.Event
}

func newMemState() *memState {
	return &memState{
		skus:        make(map[uuid.UUID]model.Sku),
		items:       make(map[uuid.UUID]model.Item),
		tasks:       make(map[uuid.UUID]model.Task),
		taskSeq:     make(map[uuid.UUID]int64),
		postings:    make(map[uuid.UUID]model.Posting),
		acceptances: make(map[uuid.UUID]model.Acceptance),
		discounts:   make(map[uuid.UUID]model.Discount),
	}
}

// clone copies every table. Nested slices are treated as immutable once
// stored, so sharing them between copies is safe.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.skus {
		c.skus[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.taskSeq {
		c.taskSeq[k] = v
	}
	for k, v := range s.postings {
		c.postings[k] = v
	}
	for k, v := range s.acceptances {
		c.acceptances[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	c.orderLines = append([]model.OrderLine(nil), s.orderLines...)
	c.shortfalls = append([]model.Shortfall(nil), s.shortfalls...)
	c.accepted = append([]model.AcceptedItem(nil), s.accepted...)
	c.outbox = append([]outbox.Event(nil), s.outbox...)
	return c
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	return &MockStore{state: newMemState()}
}

var _ store.Store = (*MockStore)(nil)
var _ outbox.Store = (*MockStore)(nil)

func (m *MockStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TxCalls++
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m, st: m.state.clone(), now: time.Now().UTC()}
	defer func() {
		if p := recover(); p != nil {
			m.Rollbacks++
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		m.Rollbacks++
		return err
	}
	if m.CommitErr != nil {
		err, m.CommitErr = m.CommitErr, nil
		m.Rollbacks++
		return err
	}
	m.state = tx.st
	m.Commits++
	return nil
}

// Seed runs fn in a committed transaction and panics on error. It is meant
// for arranging test fixtures.
func (m *MockStore) Seed(fn func(tx store.Tx) error) {
	if err := m.WithTx(context.Background(), fn); err != nil {
		panic(err)
	}
}

// Events returns a copy of every committed outbox event.
func (m *MockStore) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.state.outbox...)
}

// EventTypes returns the committed outbox event types in insertion order.
func (m *MockStore) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.state.outbox))
	for _, e := range m.state.outbox {
		types = append(types, e.Type)
	}
	return types
}

// Items returns every committed item.
func (m *MockStore) Items() []model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Item, 0, len(m.state.items))
	for _, it := range m.state.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Tasks returns every committed task.
func (m *MockStore) Tasks() []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedTasks(m.state, func(model.Task) bool { return true })
}

// Skus returns every committed SKU.
func (m *MockStore) Skus() []model.Sku {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Sku, 0, len(m.state.skus))
	for _, s := range m.state.skus {
		out = append(out, s)
	}
	return out
}

func (m *MockStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []outbox.Event
	for i := range m.state.outbox {
		if len(events) >= batchSize {
			break
		}
		e := &m.state.outbox[i]
		if e.Status != outbox.StatusPending {
			continue
		}
		e.Status = outbox.StatusInProgress
		events = append(events, *e)
	}
	return events, nil
}

func (m *MockStore) MarkSent(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkedSent = append(m.MarkedSent, ids...)
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i := range m.state.outbox {
		if want[m.state.outbox[i].ID] {
			m.state.outbox[i].Status = outbox.StatusSent
			n++
		}
	}
	if n == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

func (m *MockStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkedFails = append(m.MarkedFails, id)
	for i := range m.state.outbox {
		e := &m.state.outbox[i]
		if e.ID != id {
			continue
		}
		e.RetryCount++
		msg := errMsg
		e.LastError = &msg
		e.Status = outbox.StatusPending
		if e.RetryCount >= outbox.MaxAttempts {
			e.Status = outbox.StatusFailed
		}
	}
	return nil
}

func (m *MockStore) nextSeq() int64 {
	m.seq++
	return m.seq
}

func sortedTasks(st *memState, keep func(model.Task) bool) []model.Task {
	out := make([]model.Task, 0)
	for _, t := range st.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return st.taskSeq[out[i].ID] < st.taskSeq[out[j].ID] })
	return out
}

type memTx struct {
	m   *MockStore
	st  *memState
	now time.Time
}

func (t *memTx) Skus() store.SkuRepository               { return memSkus{t} }
func (t *memTx) Items() store.ItemRepository             { return memItems{t} }
func (t *memTx) Tasks() store.TaskRepository             { return memTasks{t} }
func (t *memTx) Postings() store.PostingRepository       { return memPostings{t} }
func (t *memTx) Acceptances() store.AcceptanceRepository { return memAcceptances{t} }
func (t *memTx) Discounts() store.DiscountRepository     { return memDiscounts{t} }
func (t *memTx) Outbox() store.OutboxRepository          { return memOutbox{t} }

type memSkus struct{ tx *memTx }

func (r memSkus) Get(_ context.Context, id uuid.UUID) (*model.Sku, error) {
	s, ok := r.tx.st.skus[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &s, nil
}

func (r memSkus) Create(_ context.Context, sku *model.Sku) error {
	if _, ok := r.tx.st.skus[sku.ID]; ok {
		return store.ErrDuplicate
	}
	sku.CreatedAt = r.tx.now
	r.tx.st.skus[sku.ID] = *sku
	return nil
}

func (r memSkus) update(id uuid.UUID, fn func(*model.Sku)) error {
	s, ok := r.tx.st.skus[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	fn(&s)
	r.tx.st.skus[id] = s
	return nil
}

func (r memSkus) SetPrices(_ context.Context, id uuid.UUID, base, actual decimal.Decimal) error {
	return r.update(id, func(s *model.Sku) {
		s.BasePrice = base
		s.ActualPrice = actual
	})
}

func (r memSkus) SetActualPrice(_ context.Context, id uuid.UUID, actual decimal.Decimal) error {
	return r.update(id, func(s *model.Sku) { s.ActualPrice = actual })
}

func (r memSkus) AddCount(_ context.Context, id uuid.UUID, delta int) error {
	return r.update(id, func(s *model.Sku) { s.Count += delta })
}

func (r memSkus) SetHidden(_ context.Context, id uuid.UUID, hidden bool) error {
	return r.update(id, func(s *model.Sku) { s.IsHidden = hidden })
}

type memItems struct{ tx *memTx }

func (r memItems) Get(_ context.Context, id uuid.UUID) (*model.Item, error) {
	it, ok := r.tx.st.items[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &it, nil
}

func (r memItems) Create(_ context.Context, item *model.Item) error {
	if _, ok := r.tx.st.items[item.ID]; ok {
		return store.ErrDuplicate
	}
	item.Seq = r.tx.m.nextSeq()
	item.CreatedAt = r.tx.now
	r.tx.st.items[item.ID] = *item
	return nil
}

func (r memItems) Reserve(_ context.Context, id uuid.UUID, cond store.ReserveCondition) (bool, error) {
	it, ok := r.tx.st.items[id]
	if !ok || !it.Available() {
		return false, nil
	}
	if cond.SkuID.Valid && it.SkuID != cond.SkuID.UUID {
		return false, nil
	}
	if cond.Stock != "" && it.Stock != cond.Stock {
		return false, nil
	}
	it.Reserved = true
	r.tx.st.items[id] = it
	return true, nil
}

func (r memItems) Release(_ context.Context, id uuid.UUID) error {
	it, ok := r.tx.st.items[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	it.Reserved = false
	r.tx.st.items[id] = it
	return nil
}

func (r memItems) LockForUpdate(_ context.Context, ids []uuid.UUID) error {
	r.tx.m.LockedItems = append(r.tx.m.LockedItems, append([]uuid.UUID(nil), ids...))
	return nil
}

func (r memItems) FindAvailable(_ context.Context, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	var best *model.Item
	for _, it := range r.tx.st.items {
		if it.SkuID != skuID || it.Stock != stock || !it.Available() {
			continue
		}
		if best == nil || it.Seq < best.Seq {
			found := it
			best = &found
		}
	}
	if best == nil {
		return nil, store.ErrRecordNotFound
	}
	return best, nil
}

func (r memItems) SetStock(_ context.Context, id uuid.UUID, stock model.StockState) error {
	it, ok := r.tx.st.items[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	it.Stock = stock
	r.tx.st.items[id] = it
	return nil
}

func (r memItems) ListBySku(_ context.Context, skuID uuid.UUID) ([]model.Item, error) {
	out := make([]model.Item, 0)
	for _, it := range r.tx.st.items {
		if it.SkuID == skuID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r memItems) HasNonDefect(_ context.Context, skuID uuid.UUID) (bool, error) {
	for _, it := range r.tx.st.items {
		if it.SkuID == skuID && it.Stock != model.StockDefect {
			return true, nil
		}
	}
	return false, nil
}

type memTasks struct{ tx *memTx }

func (r memTasks) Get(_ context.Context, id uuid.UUID) (*model.Task, error) {
	t, ok := r.tx.st.tasks[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &t, nil
}

func (r memTasks) Create(_ context.Context, task *model.Task) error {
	if _, ok := r.tx.st.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := r.tx.st.items[task.TargetItemID]; !ok {
		return errors.New("task target item does not exist")
	}
	task.CreatedAt = r.tx.now
	task.UpdatedAt = r.tx.now
	r.tx.st.tasks[task.ID] = *task
	r.tx.st.taskSeq[task.ID] = r.tx.m.nextSeq()
	return nil
}

func (r memTasks) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.TaskStatus) (bool, error) {
	t, ok := r.tx.st.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = r.tx.now
	r.tx.st.tasks[id] = t
	return true, nil
}

func (r memTasks) Retarget(_ context.Context, id, itemID uuid.UUID) error {
	t, ok := r.tx.st.tasks[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	t.TargetItemID = itemID
	t.UpdatedAt = r.tx.now
	r.tx.st.tasks[id] = t
	return nil
}

func (r memTasks) ListByPosting(_ context.Context, postingID uuid.UUID) ([]model.Task, error) {
	return sortedTasks(r.tx.st, func(t model.Task) bool {
		return t.PostingID.Valid && t.PostingID.UUID == postingID
	}), nil
}

func (r memTasks) ListByAcceptance(_ context.Context, acceptanceID uuid.UUID) ([]model.Task, error) {
	return sortedTasks(r.tx.st, func(t model.Task) bool {
		return t.AcceptanceID.Valid && t.AcceptanceID.UUID == acceptanceID
	}), nil
}

func (r memTasks) ListInWorkPicks(_ context.Context, itemID uuid.UUID) ([]model.Task, error) {
	return sortedTasks(r.tx.st, func(t model.Task) bool {
		return t.TargetItemID == itemID && t.Type == model.TaskPicking && t.Status == model.TaskInWork
	}), nil
}

type memPostings struct{ tx *memTx }

func (r memPostings) Get(_ context.Context, id uuid.UUID) (*model.Posting, error) {
	p, ok := r.tx.st.postings[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &p, nil
}

func (r memPostings) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Posting, error) {
	return r.Get(ctx, id)
}

func (r memPostings) Create(_ context.Context, p *model.Posting) error {
	if _, ok := r.tx.st.postings[p.ID]; ok {
		return store.ErrDuplicate
	}
	p.CreatedAt = r.tx.now
	p.UpdatedAt = r.tx.now
	header := *p
	header.OrderLines, header.Shortfalls, header.Tasks = nil, nil, nil
	r.tx.st.postings[p.ID] = header
	return nil
}

func (r memPostings) UpdateCost(_ context.Context, id uuid.UUID, cost decimal.Decimal) error {
	p, ok := r.tx.st.postings[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	p.Cost = cost
	p.UpdatedAt = r.tx.now
	r.tx.st.postings[id] = p
	return nil
}

func (r memPostings) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.PostingStatus) (bool, error) {
	p, ok := r.tx.st.postings[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = r.tx.now
	r.tx.st.postings[id] = p
	return true, nil
}

func (r memPostings) AddOrderLine(_ context.Context, line *model.OrderLine) error {
	l := *line
	l.FromValidIDs = append([]uuid.UUID(nil), line.FromValidIDs...)
	l.FromDefectIDs = append([]uuid.UUID(nil), line.FromDefectIDs...)
	r.tx.st.orderLines = append(r.tx.st.orderLines, l)
	return nil
}

func (r memPostings) ListOrderLines(_ context.Context, postingID uuid.UUID) ([]model.OrderLine, error) {
	out := make([]model.OrderLine, 0)
	for _, l := range r.tx.st.orderLines {
		if l.PostingID == postingID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r memPostings) AddShortfall(_ context.Context, s *model.Shortfall) error {
	s.CreatedAt = r.tx.now
	r.tx.st.shortfalls = append(r.tx.st.shortfalls, *s)
	return nil
}

func (r memPostings) ListShortfalls(_ context.Context, postingID uuid.UUID) ([]model.Shortfall, error) {
	out := make([]model.Shortfall, 0)
	for _, s := range r.tx.st.shortfalls {
		if s.PostingID == postingID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memAcceptances struct{ tx *memTx }

func (r memAcceptances) Get(_ context.Context, id uuid.UUID) (*model.Acceptance, error) {
	a, ok := r.tx.st.acceptances[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &a, nil
}

func (r memAcceptances) Create(_ context.Context, a *model.Acceptance) error {
	if _, ok := r.tx.st.acceptances[a.ID]; ok {
		return store.ErrDuplicate
	}
	a.CreatedAt = r.tx.now
	r.tx.st.acceptances[a.ID] = model.Acceptance{ID: a.ID, CreatedAt: a.CreatedAt}
	return nil
}

func (r memAcceptances) AddAcceptedItem(_ context.Context, item *model.AcceptedItem) error {
	r.tx.st.accepted = append(r.tx.st.accepted, *item)
	return nil
}

func (r memAcceptances) ListAcceptedItems(_ context.Context, acceptanceID uuid.UUID) ([]model.AcceptedItem, error) {
	out := make([]model.AcceptedItem, 0)
	for _, ai := range r.tx.st.accepted {
		if ai.AcceptanceID == acceptanceID {
			out = append(out, ai)
		}
	}
	return out, nil
}

type memDiscounts struct{ tx *memTx }

func (r memDiscounts) Get(_ context.Context, id uuid.UUID) (*model.Discount, error) {
	d, ok := r.tx.st.discounts[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	d.SkuIDs = append([]uuid.UUID(nil), d.SkuIDs...)
	return &d, nil
}

func (r memDiscounts) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Discount, error) {
	return r.Get(ctx, id)
}

func (r memDiscounts) Create(_ context.Context, d *model.Discount) error {
	if _, ok := r.tx.st.discounts[d.ID]; ok {
		return store.ErrDuplicate
	}
	d.CreatedAt = r.tx.now
	stored := *d
	stored.SkuIDs = append([]uuid.UUID(nil), d.SkuIDs...)
	r.tx.st.discounts[d.ID] = stored
	return nil
}

func (r memDiscounts) Finish(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	d, ok := r.tx.st.discounts[id]
	if !ok || d.Status != model.DiscountActive {
		return false, nil
	}
	d.Status = model.DiscountFinished
	d.FinishedAt = &at
	r.tx.st.discounts[id] = d
	return true, nil
}

func (r memDiscounts) ListActiveBySku(_ context.Context, skuID uuid.UUID) ([]model.Discount, error) {
	out := make([]model.Discount, 0)
	for _, d := range r.tx.st.discounts {
		if d.Status != model.DiscountActive {
			continue
		}
		for _, id := range d.SkuIDs {
			if id == skuID {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memOutbox struct{ tx *memTx }

func (r memOutbox) Add(_ context.Context, event outbox.Event) error {
	event.ID = r.tx.m.nextSeq()
	event.Status = outbox.StatusPending
	r.tx.st.outbox = append(r.tx.st.outbox, event)
	return nil
}
