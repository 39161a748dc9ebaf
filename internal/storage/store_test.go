package storage_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames(t *testing.T) {
	names, err := storage.MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/001_init.sql", names[0])
}

// openStore connects to FULFILLMENT_TEST_DATABASE_URL and skips the test
// when it is unset.
func openStore(t *testing.T) *storage.Store {
	t.Helper()
	url := os.Getenv("FULFILLMENT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FULFILLMENT_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := storage.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPostgresTransitions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := order.NewEngine(store, logger)
	user := "it-" + uuid.NewString()

	o, err := engine.CreateOrder(ctx, order.Draft{UserID: user, SubtotalAmount: 250000, ServiceFee: 10000})
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderNumber)

	byPayment, err := store.GetOrderByPaymentID(ctx, o.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byPayment.ID)

	got, err := engine.Transition(ctx, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentFailed, Reason: "expired"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)

	stored, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, order.PaymentFailed, stored.Payment.Status)
	assert.Equal(t, "expired", stored.Notes)

	entries, total, err := store.QueryAudit(ctx, audit.Filter{ResourceID: o.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)

	_, err = engine.Transition(ctx, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = store.GetOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.GetOrder(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresNotificationLedger(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	d := notification.NewDispatcher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	recipient := "it-" + uuid.NewString()
	orderID := uuid.NewString()

	m := notification.Message{Type: notification.TypePaymentReminder, RecipientID: recipient, Title: "Reminder", Body: "Pay", OrderID: orderID}
	sent, err := d.SendOnce(ctx, "", m)
	require.NoError(t, err)
	assert.True(t, sent)

	inserted, err := store.InsertNotification(ctx, notification.Record{
		ID: uuid.NewString(), RecipientID: recipient, Type: m.Type, Title: "dup", Message: "dup",
		OrderID: orderID, DedupKey: notification.KeyFor(m, "").String(), CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	records, total, err := d.List(ctx, recipient, true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, orderID, records[0].Payload["orderId"])

	require.NoError(t, d.MarkRead(ctx, recipient, records[0].ID))
	assert.ErrorIs(t, d.MarkRead(ctx, "someone-else", records[0].ID), apperr.ErrNotFound)

	first, err := store.RecordInbox(ctx, "evt-"+recipient, "payments.reported")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := store.RecordInbox(ctx, "evt-"+recipient, "payments.reported")
	require.NoError(t, err)
	assert.False(t, again)
}
