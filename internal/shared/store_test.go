package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   string
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag(f.tag), f.err
}

func fixedClock() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

func TestAuditLoggerRecord(t *testing.T) {
	db := &fakeExecer{tag: "INSERT 0 1"}
	logger := NewAuditLogger(db)
	logger.now = fixedClock

	require.NoError(t, logger.Record(t.Context(), AuditLog{ActorID: "user-1", Action: "service.executed", Entity: "service", EntityID: "s-1", Meta: map[string]any{"price": 50}}))
	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	assert.Equal(t, "user-1", args[0])
	assert.JSONEq(t, `{"price":50}`, string(args[4].([]byte)))
	assert.Equal(t, fixedClock(), args[5])

	require.NoError(t, logger.Record(t.Context(), AuditLog{Action: "brand.created", Entity: "brand", EntityID: "b-1"}))
	assert.Nil(t, db.calls[1].args[4])

	assert.Error(t, logger.Record(t.Context(), AuditLog{Action: "brand.created"}))
	assert.Error(t, (*AuditLogger)(nil).Record(t.Context(), AuditLog{}))
}

func TestIdempotencyStoreDetectsReplay(t *testing.T) {
	db := &fakeExecer{tag: "INSERT 0 1"}
	store := NewIdempotencyStore(db)
	require.NoError(t, store.CheckAndInsert(t.Context(), "k-1", "service"))
	assert.Equal(t, "service", db.calls[0].args[0])

	db.tag = "INSERT 0 0"
	assert.ErrorIs(t, store.CheckAndInsert(t.Context(), "k-1", "service"), ErrIdempotencyConflict)
	assert.Error(t, store.CheckAndInsert(t.Context(), "", "service"))

	db.err = errors.New("connection reset")
	err := store.CheckAndInsert(t.Context(), "k-2", "service")
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestIdempotencyCleanup(t *testing.T) {
	db := &fakeExecer{tag: "DELETE 4"}
	store := NewIdempotencyStore(db)
	store.now = fixedClock

	n, err := store.Cleanup(t.Context(), 72*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, fixedClock().Add(-72*time.Hour), db.calls[0].args[0])

	_, err = store.Cleanup(t.Context(), 0)
	assert.Error(t, err)
}
