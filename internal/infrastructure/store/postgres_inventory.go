package store

import (
	"context"
	"database/sql"

	"github.com/example/warehouse-fulfillment/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type pgSkuRepo struct {
	q querier
}

func (r *pgSkuRepo) Get(ctx context.Context, id uuid.UUID) (*model.Sku, error) {
	var s model.Sku
	err := r.q.QueryRowContext(ctx,
		`SELECT id, base_price, actual_price, count, is_hidden, created_at FROM skus WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.BasePrice, &s.ActualPrice, &s.Count, &s.IsHidden, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *pgSkuRepo) Create(ctx context.Context, sku *model.Sku) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO skus (id, base_price, actual_price, count, is_hidden)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		sku.ID, sku.BasePrice, sku.ActualPrice, sku.Count, sku.IsHidden,
	).Scan(&sku.CreatedAt)
	return mapInsertErr(err)
}

func (r *pgSkuRepo) SetPrices(ctx context.Context, id uuid.UUID, base, actual decimal.Decimal) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE skus SET base_price = $2, actual_price = $3 WHERE id = $1`,
		id, base, actual,
	))
}

func (r *pgSkuRepo) SetActualPrice(ctx context.Context, id uuid.UUID, actual decimal.Decimal) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE skus SET actual_price = $2 WHERE id = $1`,
		id, actual,
	))
}

func (r *pgSkuRepo) AddCount(ctx context.Context, id uuid.UUID, delta int) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE skus SET count = count + $2 WHERE id = $1`,
		id, delta,
	))
}

func (r *pgSkuRepo) SetHidden(ctx context.Context, id uuid.UUID, hidden bool) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE skus SET is_hidden = $2 WHERE id = $1`,
		id, hidden,
	))
}

type pgItemRepo struct {
	q querier
}

const itemColumns = `id, sku_id, stock, reserved, seq, created_at`

func scanItem(row interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	if err := row.Scan(&it.ID, &it.SkuID, &it.Stock, &it.Reserved, &it.Seq, &it.CreatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *pgItemRepo) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	it, err := scanItem(r.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return it, nil
}

func (r *pgItemRepo) Create(ctx context.Context, item *model.Item) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO items (id, sku_id, stock, reserved)
		 VALUES ($1, $2, $3, $4)
		 RETURNING seq, created_at`,
		item.ID, item.SkuID, item.Stock, item.Reserved,
	).Scan(&item.Seq, &item.CreatedAt)
	return mapInsertErr(err)
}

func (r *pgItemRepo) Reserve(ctx context.Context, id uuid.UUID, cond ReserveCondition) (bool, error) {
	return affected(r.q.ExecContext(ctx,
		`UPDATE items SET reserved = TRUE
		 WHERE id = $1
		   AND reserved = FALSE
		   AND stock <> 'not_found'
		   AND ($2::uuid IS NULL OR sku_id = $2)
		   AND ($3::text = '' OR stock = $3::text)`,
		id, cond.SkuID, string(cond.Stock),
	))
}

func (r *pgItemRepo) Release(ctx context.Context, id uuid.UUID) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE items SET reserved = FALSE WHERE id = $1`, id))
}

func (r *pgItemRepo) LockForUpdate(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT id FROM items WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		uuidArray(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (r *pgItemRepo) FindAvailable(ctx context.Context, skuID uuid.UUID, stock model.StockState) (*model.Item, error) {
	it, err := scanItem(r.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE sku_id = $1 AND stock = $2 AND stock <> 'not_found' AND reserved = FALSE
		 ORDER BY seq
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		skuID, stock,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return it, nil
}

func (r *pgItemRepo) SetStock(ctx context.Context, id uuid.UUID, stock model.StockState) error {
	return expectOne(r.q.ExecContext(ctx,
		`UPDATE items SET stock = $2 WHERE id = $1`, id, stock))
}

func (r *pgItemRepo) ListBySku(ctx context.Context, skuID uuid.UUID) ([]model.Item, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE sku_id = $1 ORDER BY seq`, skuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *pgItemRepo) HasNonDefect(ctx context.Context, skuID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE sku_id = $1 AND stock <> 'defect')`,
		skuID,
	).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return exists, nil
}
