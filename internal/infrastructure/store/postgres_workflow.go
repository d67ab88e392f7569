package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type pgTaskRepo struct {
	q querier
}

const taskColumns = `id, type, status, target_item_id, target_stock, posting_id, acceptance_id, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.TargetItemID, &t.TargetStock,
		&t.PostingID, &t.AcceptanceID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgTaskRepo) listTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *pgTaskRepo) Get(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	t, err := scanTask(r.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *pgTaskRepo) Create(ctx context.Context, t *model.Task) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO tasks (id, type, status, target_item_id, target_stock, posting_id, acceptance_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		t.ID, t.Type, t.Status, t.TargetItemID, t.TargetStock, t.PostingID, t.AcceptanceID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapInsertErr(err)
}

func (r *pgTaskRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.TaskStatus) (bool, error) {
	return affected(r.q.ExecContext(ctx,
		`UPDATE tasks SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to,
	))
}

func (r *pgTaskRepo) Retarget(ctx context.Context, id, itemID uuid.UUID) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE tasks SET target_item_id = $2, updated_at = now() WHERE id = $1`,
		id, itemID,
	))
}

func (r *pgTaskRepo) ListByPosting(ctx context.Context, postingID uuid.UUID) ([]model.Task, error) {
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE posting_id = $1 ORDER BY seq`, postingID)
}

func (r *pgTaskRepo) ListByAcceptance(ctx context.Context, acceptanceID uuid.UUID) ([]model.Task, error) {
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE acceptance_id = $1 ORDER BY seq`, acceptanceID)
}

func (r *pgTaskRepo) ListInWorkPicks(ctx context.Context, itemID uuid.UUID) ([]model.Task, error) {
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE target_item_id = $1 AND type = 'picking' AND status = 'in_work'
		 ORDER BY seq
		 FOR UPDATE`, itemID)
}

type pgPostingRepo struct {
	q querier
}

func (r *pgPostingRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Posting, error) {
	var p model.Posting
	err := r.q.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Status, &p.Cost, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *pgPostingRepo) Get(ctx context.Context, id uuid.UUID) (*model.Posting, error) {
	return r.get(ctx, `SELECT id, status, cost, created_at, updated_at FROM postings WHERE id = $1`, id)
}

func (r *pgPostingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Posting, error) {
	return r.get(ctx, `SELECT id, status, cost, created_at, updated_at FROM postings WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgPostingRepo) Create(ctx context.Context, p *model.Posting) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO postings (id, status, cost) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		p.ID, p.Status, p.Cost,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapInsertErr(err)
}

func (r *pgPostingRepo) UpdateCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE postings SET cost = $2, updated_at = now() WHERE id = $1`, id, cost))
}

func (r *pgPostingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.PostingStatus) (bool, error) {
	return affected(r.q.ExecContext(ctx,
		`UPDATE postings SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to,
	))
}

func (r *pgPostingRepo) AddOrderLine(ctx context.Context, line *model.OrderLine) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO order_lines (id, posting_id, sku_id, from_valid_ids, from_defect_ids)
		 VALUES ($1, $2, $3, $4::uuid[], $5::uuid[])`,
		line.ID, line.PostingID, line.SkuID, uuidArray(line.FromValidIDs), uuidArray(line.FromDefectIDs),
	)
	return mapInsertErr(err)
}

func (r *pgPostingRepo) ListOrderLines(ctx context.Context, postingID uuid.UUID) ([]model.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, posting_id, sku_id, from_valid_ids, from_defect_ids
		 FROM order_lines WHERE posting_id = $1 ORDER BY seq`, postingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]model.OrderLine, 0)
	for rows.Next() {
		var (
			l             model.OrderLine
			valid, defect pq.StringArray
		)
		if err := rows.Scan(&l.ID, &l.PostingID, &l.SkuID, &valid, &defect); err != nil {
			return nil, err
		}
		if l.FromValidIDs, err = parseUUIDs(valid); err != nil {
			return nil, err
		}
		if l.FromDefectIDs, err = parseUUIDs(defect); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *pgPostingRepo) AddShortfall(ctx context.Context, s *model.Shortfall) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO posting_shortfalls (id, posting_id, sku_id, stock, requested_item_id, stub_item_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		s.ID, s.PostingID, s.SkuID, s.Stock, s.RequestedItemID, s.StubItemID,
	).Scan(&s.CreatedAt)
	return mapInsertErr(err)
}

func (r *pgPostingRepo) ListShortfalls(ctx context.Context, postingID uuid.UUID) ([]model.Shortfall, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, posting_id, sku_id, stock, requested_item_id, stub_item_id, created_at
		 FROM posting_shortfalls WHERE posting_id = $1 ORDER BY seq`, postingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Shortfall, 0)
	for rows.Next() {
		var s model.Shortfall
		if err := rows.Scan(&s.ID, &s.PostingID, &s.SkuID, &s.Stock, &s.RequestedItemID, &s.StubItemID, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type pgAcceptanceRepo struct {
	q querier
}

func (r *pgAcceptanceRepo) Get(ctx context.Context, id uuid.UUID) (*model.Acceptance, error) {
	var a model.Acceptance
	err := r.q.QueryRowContext(ctx,
		`SELECT id, created_at FROM acceptances WHERE id = $1`, id,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *pgAcceptanceRepo) Create(ctx context.Context, a *model.Acceptance) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO acceptances (id) VALUES ($1) RETURNING created_at`, a.ID,
	).Scan(&a.CreatedAt)
	return mapInsertErr(err)
}

func (r *pgAcceptanceRepo) AddAcceptedItem(ctx context.Context, item *model.AcceptedItem) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO accepted_items (id, acceptance_id, sku_id, stock, count) VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.AcceptanceID, item.SkuID, item.Stock, item.Count,
	)
	return mapInsertErr(err)
}

func (r *pgAcceptanceRepo) ListAcceptedItems(ctx context.Context, acceptanceID uuid.UUID) ([]model.AcceptedItem, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, acceptance_id, sku_id, stock, count FROM accepted_items WHERE acceptance_id = $1`,
		acceptanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.AcceptedItem, 0)
	for rows.Next() {
		var ai model.AcceptedItem
		if err := rows.Scan(&ai.ID, &ai.AcceptanceID, &ai.SkuID, &ai.Stock, &ai.Count); err != nil {
			return nil, err
		}
		out = append(out, ai)
	}
	return out, rows.Err()
}

type pgDiscountRepo struct {
	q querier
}

func (r *pgDiscountRepo) get(ctx context.Context, query string, id uuid.UUID) (*model.Discount, error) {
	var (
		d    model.Discount
		skus pq.StringArray
	)
	err := r.q.QueryRowContext(ctx, query, id).
		Scan(&d.ID, &d.Status, &d.Percentage, &d.CreatedAt, &d.FinishedAt, &skus)
	if err != nil {
		return nil, notFound(err)
	}
	if d.SkuIDs, err = parseUUIDs(skus); err != nil {
		return nil, err
	}
	return &d, nil
}

const discountSelect = `SELECT d.id, d.status, d.percentage, d.created_at, d.finished_at,
	COALESCE((SELECT array_agg(ds.sku_id ORDER BY ds.sku_id) FROM discount_skus ds WHERE ds.discount_id = d.id), '{}')
	FROM discounts d WHERE d.id = $1`

func (r *pgDiscountRepo) Get(ctx context.Context, id uuid.UUID) (*model.Discount, error) {
	return r.get(ctx, discountSelect, id)
}

func (r *pgDiscountRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Discount, error) {
	return r.get(ctx, discountSelect+` FOR UPDATE OF d`, id)
}

func (r *pgDiscountRepo) Create(ctx context.Context, d *model.Discount) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO discounts (id, status, percentage) VALUES ($1, $2, $3) RETURNING created_at`,
		d.ID, d.Status, d.Percentage,
	).Scan(&d.CreatedAt)
	if err != nil {
		return mapInsertErr(err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO discount_skus (discount_id, sku_id)
		 SELECT $1, unnest($2::uuid[])
		 ON CONFLICT DO NOTHING`,
		d.ID, uuidArray(d.SkuIDs),
	)
	if err != nil {
		return fmt.Errorf("link discount skus: %w", err)
	}
	return nil
}

func (r *pgDiscountRepo) Finish(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return affected(r.q.ExecContext(ctx,
		`UPDATE discounts SET status = 'finished', finished_at = $2 WHERE id = $1 AND status = 'active'`,
		id, at,
	))
}

func (r *pgDiscountRepo) ListActiveBySku(ctx context.Context, skuID uuid.UUID) ([]model.Discount, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT d.id, d.status, d.percentage, d.created_at, d.finished_at
		 FROM discounts d
		 JOIN discount_skus ds ON ds.discount_id = d.id
		 WHERE ds.sku_id = $1 AND d.status = 'active'
		 ORDER BY d.created_at`, skuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Discount, 0)
	for rows.Next() {
		var d model.Discount
		if err := rows.Scan(&d.ID, &d.Status, &d.Percentage, &d.CreatedAt, &d.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw pq.StringArray) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
