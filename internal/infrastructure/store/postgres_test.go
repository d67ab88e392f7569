package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/example/warehouse-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	n   int64
	err error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestUUIDArrayRoundTrip(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	got, err := parseUUIDs(uuidArray(ids))

	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestParseUUIDs_Invalid(t *testing.T) {
	_, err := parseUUIDs(pq.StringArray{"not-a-uuid"})
	assert.Error(t, err)
}

func TestParseUUIDs_Empty(t *testing.T) {
	got, err := parseUUIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMapInsertErr(t *testing.T) {
	dup := &pq.Error{Code: pqUniqueViolation, Constraint: "skus_pkey"}
	assert.ErrorIs(t, mapInsertErr(dup), ErrDuplicate)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapInsertErr(other))
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(sql.ErrNoRows), ErrRecordNotFound)
	assert.NoError(t, notFound(nil))
}

func TestExpectOneAndAffected(t *testing.T) {
	assert.NoError(t, expectOne(fakeResult{n: 1}, nil))
	assert.ErrorIs(t, expectOne(fakeResult{n: 0}, nil), ErrRecordNotFound)

	boom := errors.New("boom")
	assert.ErrorIs(t, expectOne(nil, boom), boom)

	ok, err := affected(fakeResult{n: 2}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = affected(fakeResult{n: 0}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMapTxErr(t *testing.T) {
	for _, code := range []pq.ErrorCode{pqDeadlockDetected, pqSerializationFailure} {
		t.Run(string(code), func(t *testing.T) {
			pqErr := &pq.Error{Code: code}
			err := mapTxErr(fmt.Errorf("reserve item: %w", pqErr))

			assert.ErrorIs(t, err, ErrTxAborted)
			assert.ErrorIs(t, err, apperr.ErrConflict)
			assert.ErrorAs(t, err, &pqErr)
		})
	}

	other := &pq.Error{Code: pqUniqueViolation}
	assert.Equal(t, apperr.CategoryInternal, apperr.Kind(mapTxErr(other)))
	assert.NoError(t, mapTxErr(nil))
}
