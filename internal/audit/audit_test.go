package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC)

func newLogger(store audit.Store) *audit.Logger {
	return audit.NewLogger(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFilterNormalize(t *testing.T) {
	f := audit.Filter{}.Normalize()
	assert.Equal(t, 50, f.Limit)

	f = audit.Filter{Limit: 10000, Offset: -4}.Normalize()
	assert.Equal(t, 500, f.Limit)
	assert.Zero(t, f.Offset)
}

func TestFilterMatch(t *testing.T) {
	e := audit.NewEntry("admin-1", audit.ActionOrderDelayed, audit.ResourceOrder, "order-1", nil, t0)

	assert.True(t, audit.Filter{}.Match(e))
	assert.True(t, audit.Filter{ActorID: "admin-1", Resource: audit.ResourceOrder}.Match(e))
	assert.False(t, audit.Filter{Action: audit.ActionCreateOrder}.Match(e))
	assert.True(t, audit.Filter{From: t0, To: t0.Add(time.Second)}.Match(e))
	assert.False(t, audit.Filter{To: t0}.Match(e))
	assert.False(t, audit.Filter{From: t0.Add(time.Nanosecond)}.Match(e))
}

func TestRecordFailureIsNonFatal(t *testing.T) {
	store := memory.New()
	store.FailAudit(errors.New("connection refused"))
	l := newLogger(store)

	err := l.Record(context.Background(), audit.NewEntry("admin-1", audit.ActionOrderDelayed, audit.ResourceOrder, "order-1", nil, t0))
	require.Error(t, err)
	assert.True(t, apperr.IsNonFatal(err))
	assert.ErrorIs(t, err, apperr.ErrAuditWrite)
	assert.Empty(t, store.AuditEntries())
}

func TestRecordFillsDefaults(t *testing.T) {
	store := memory.New()
	l := newLogger(store)

	require.NoError(t, l.Record(context.Background(), audit.Entry{ActorID: "admin-1", Action: audit.ActionOrderDelayed}))

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestQuery(t *testing.T) {
	store := memory.New()
	l := newLogger(store)
	ctx := context.Background()

	for i, action := range []string{audit.ActionCreateOrder, audit.ActionOrderDelayed, audit.ActionOrderDelayed} {
		e := audit.NewEntry("admin-1", action, audit.ResourceOrder, "order-1", nil, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, l.Record(ctx, e))
	}

	entries, total, err := l.Query(ctx, audit.Filter{Action: audit.ActionOrderDelayed, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 1)
	assert.Equal(t, t0.Add(2*time.Minute), entries[0].CreatedAt)

	entries, total, err = l.Query(ctx, audit.Filter{From: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)
}
