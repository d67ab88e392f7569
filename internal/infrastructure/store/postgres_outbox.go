package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/lib/pq"
)

type pgOutboxRepo struct {
	q querier
}

func (r *pgOutboxRepo) Add(ctx context.Context, event outbox.Event) error {
	headers, err := json.Marshal(event.Headers)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		event.AggregateType, event.AggregateID, event.Type, event.Payload, headers, event.Traceparent,
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.Type, err)
	}
	return nil
}

// OutboxStore implements outbox.Store for the relay.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// LockBatch claims pending events, plus in-progress events whose lease has
// expired, for relayID.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, retry_count, created_at
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var events []outbox.Event
	for rows.Next() {
		var (
			event   outbox.Event
			headers []byte
		)
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type,
			&event.Payload, &headers, &event.Traceparent, &event.RetryCount, &event.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal(headers, &event.Headers); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode outbox headers %d: %w", event.ID, err)
		}
		event.Status = outbox.StatusInProgress
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE outbox SET status = 'in_progress', relay_id = $1, lease_until = now() + $2::interval
		 WHERE id = ANY($3)`,
		relayID, fmt.Sprintf("%d milliseconds", lease.Milliseconds()), pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

// MarkFailed returns the event to pending until it has used up
// outbox.MaxAttempts, then parks it as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     last_error = $2,
		     lease_until = NULL,
		     status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`,
		id, errMsg, outbox.MaxAttempts,
	)
	return err
}
