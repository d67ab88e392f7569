package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate record")

// ErrTxAborted is returned by WithTx when PostgreSQL aborted the transaction
// as a deadlock victim or on a serialization failure. The caller may retry.
var ErrTxAborted = fmt.Errorf("transaction aborted by a concurrent transaction: %w", apperr.ErrConflict)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB returns the underlying pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(newPgTx(sqlTx)); err != nil {
		return mapTxErr(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return mapTxErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapTxErr classifies deadlock and serialization failures as ErrTxAborted.
// It only runs once the transaction is over, since PostgreSQL rejects every
// further statement in an aborted transaction.
func mapTxErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqDeadlockDetected, pqSerializationFailure:
			return fmt.Errorf("%w: %w", ErrTxAborted, err)
		}
	}
	return err
}

type pgTx struct {
	skus        *pgSkuRepo
	items       *pgItemRepo
	tasks       *pgTaskRepo
	postings    *pgPostingRepo
	acceptances *pgAcceptanceRepo
	discounts   *pgDiscountRepo
	outbox      *pgOutboxRepo
}

func newPgTx(q querier) *pgTx {
	return &pgTx{
		skus:        &pgSkuRepo{q: q},
		items:       &pgItemRepo{q: q},
		tasks:       &pgTaskRepo{q: q},
		postings:    &pgPostingRepo{q: q},
		acceptances: &pgAcceptanceRepo{q: q},
		discounts:   &pgDiscountRepo{q: q},
		outbox:      &pgOutboxRepo{q: q},
	}
}

func (t *pgTx) Skus() SkuRepository               { return t.skus }
func (t *pgTx) Items() ItemRepository             { return t.items }
func (t *pgTx) Tasks() TaskRepository             { return t.tasks }
func (t *pgTx) Postings() PostingRepository       { return t.postings }
func (t *pgTx) Acceptances() AcceptanceRepository { return t.acceptances }
func (t *pgTx) Discounts() DiscountRepository     { return t.discounts }
func (t *pgTx) Outbox() OutboxRepository          { return t.outbox }

// ConnectPostgres opens and verifies a connection pool.
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func mapInsertErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// expectOne turns a zero-row update into ErrRecordNotFound.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
