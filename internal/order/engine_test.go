package order_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *memory.Store
	engine *order.Engine
	clock  *clock
	events []order.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), clock: &clock{now: t0}}
	f.engine = order.NewEngine(f.store, slog.New(slog.NewTextHandler(io.Discard, nil)), order.WithClock(f.clock.Now))
	f.engine.Subscribe(order.EventHandlerFunc(func(_ context.Context, evt order.Event) {
		f.events = append(f.events, evt)
	}))
	return f
}

func (f *fixture) create(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.engine.CreateOrder(context.Background(), order.Draft{
		UserID:         "cust-1",
		SubtotalAmount: 250000,
		ServiceFee:     10000,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) transition(t *testing.T, req order.Request) *order.Order {
	t.Helper()
	o, err := f.engine.Transition(context.Background(), req)
	require.NoError(t, err)
	return o
}

func (f *fixture) toReady(t *testing.T, id string) {
	t.Helper()
	f.transition(t, order.Request{OrderID: id, PaymentStatus: order.PaymentPaid, Actor: "admin-1"})
	f.transition(t, order.Request{OrderID: id, OrderStatus: order.StatusProcessing, Actor: "admin-1"})
	f.transition(t, order.Request{OrderID: id, OrderStatus: order.StatusReady, Actor: "admin-1"})
}

func (f *fixture) actions() []string {
	var out []string
	for _, e := range f.store.AuditEntries() {
		out = append(out, e.Action)
	}
	return out
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	assert.Equal(t, "1001", o.OrderNumber)
	assert.Equal(t, int64(260000), o.TotalAmount)
	assert.Equal(t, o.TotalAmount, o.Payment.Amount)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.Payment.Status)
	assert.Equal(t, order.PickupNotPickedUp, o.PickupStatus)
	assert.Equal(t, order.MethodBankTransfer, o.Payment.Method)
	assert.Equal(t, t0, o.CreatedAt)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreateOrder, entries[0].Action)
	assert.Equal(t, "cust-1", entries[0].ActorID)
	assert.Equal(t, "1001", entries[0].Details["order_number"])

	require.Len(t, f.events, 1)
	assert.Equal(t, order.EventCreated, f.events[0].Kind)
}

func TestCreateOrderRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateOrder(ctx, order.Draft{UserID: "cust-1", SubtotalAmount: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.CreateOrder(ctx, order.Draft{UserID: "cust-1", SubtotalAmount: 1000, ServiceFee: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.CreateOrder(ctx, order.Draft{SubtotalAmount: 1000})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Empty(t, f.store.AuditEntries())
}

func TestPaymentFailedCancelsOrder(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.events = nil

	got := f.transition(t, order.Request{
		OrderID:       o.ID,
		PaymentStatus: order.PaymentFailed,
		Actor:         order.ActorSystem,
		Reason:        "Payment expired - auto-cancelled",
	})

	assert.Equal(t, order.PaymentFailed, got.Payment.Status)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, "Payment expired - auto-cancelled", got.Notes)
	assert.Equal(t, []string{
		audit.ActionCreateOrder, audit.ActionUpdatePaymentStatus, audit.ActionUpdateOrderStatus,
	}, f.actions())

	require.Len(t, f.events, 2)
	assert.Equal(t, order.EventPaymentStatusChanged, f.events[0].Kind)
	assert.Equal(t, order.EventStatusChanged, f.events[1].Kind)
	// Events carry the committed state, cascade included.
	assert.Equal(t, order.StatusCancelled, f.events[0].Order.Status)
}

func TestSameStateIsNoop(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentFailed})
	before := len(f.store.AuditEntries())
	f.events = nil

	f.clock.Advance(time.Hour)
	got := f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentFailed})

	assert.Equal(t, order.PaymentFailed, got.Payment.Status)
	assert.Len(t, f.store.AuditEntries(), before)
	assert.Empty(t, f.events)

	stored, err := f.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, stored.UpdatedAt)
}

func TestInvalidTransitionLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
	before := len(f.store.AuditEntries())

	_, err := f.engine.Transition(context.Background(), order.Request{OrderID: o.ID, PaymentStatus: order.PaymentFailed})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.engine.Transition(context.Background(), order.Request{OrderID: o.ID, OrderStatus: order.StatusReady})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	stored, err := f.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
	assert.Equal(t, order.PaymentPaid, stored.Payment.Status)
	assert.Len(t, f.store.AuditEntries(), before)
}

func TestTransitionRequiresOneTarget(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.engine.Transition(context.Background(), order.Request{OrderID: o.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.Transition(context.Background(), order.Request{
		OrderID: o.ID, OrderStatus: order.StatusConfirmed, PaymentStatus: order.PaymentPaid,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.Transition(context.Background(), order.Request{OrderID: o.ID, OrderStatus: "SHIPPED"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPaidRejectedOnCancelledOrder(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.transition(t, order.Request{OrderID: o.ID, OrderStatus: order.StatusCancelled, Reason: "customer request"})

	_, err := f.engine.Transition(context.Background(), order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCascades(t *testing.T) {
	t.Run("confirming marks the payment paid", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)

		got := f.transition(t, order.Request{OrderID: o.ID, OrderStatus: order.StatusConfirmed, Actor: "admin-1"})
		assert.Equal(t, order.PaymentPaid, got.Payment.Status)
		assert.Equal(t, []string{
			audit.ActionCreateOrder, audit.ActionUpdateOrderStatus, audit.ActionUpdatePaymentStatus,
		}, f.actions())
	})

	t.Run("cancelling a pending order fails its payment", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)

		got := f.transition(t, order.Request{OrderID: o.ID, OrderStatus: order.StatusCancelled, Reason: "out of stock"})
		assert.Equal(t, order.PaymentFailed, got.Payment.Status)
		assert.Equal(t, "out of stock", got.Notes)
	})

	t.Run("cancelling a paid order refunds it", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)
		f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})

		got := f.transition(t, order.Request{OrderID: o.ID, OrderStatus: order.StatusCancelled})
		assert.Equal(t, order.PaymentRefunded, got.Payment.Status)
	})

	t.Run("refund cancels a processing order", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)
		f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
		f.transition(t, order.Request{OrderID: o.ID, OrderStatus: order.StatusProcessing})

		got := f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentRefunded})
		assert.Equal(t, order.StatusCancelled, got.Status)
	})

	t.Run("refund cancels a ready order", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)
		f.toReady(t, o.ID)
		f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentRefunded, Reason: "bundle damaged"})

		stored, err := f.engine.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, stored.Status)
		assert.Equal(t, "bundle damaged", stored.Notes)
	})
}

func TestRequireRejectsIneligibleState(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.engine.Transition(context.Background(), order.Request{
		OrderID:     o.ID,
		OrderStatus: order.StatusProcessing,
		Require:     []order.Status{order.StatusConfirmed, order.StatusProcessing},
	})
	assert.ErrorIs(t, err, apperr.ErrIneligibleState)
	assert.Len(t, f.store.AuditEntries(), 1)
}

func TestAttachPaymentProof(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	ctx := context.Background()
	f.events = nil

	got, err := f.engine.AttachPaymentProof(ctx, o.ID, "https://files.example/proof-1001.jpg", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/proof-1001.jpg", got.Payment.ProofURL)
	require.Len(t, f.events, 1)
	assert.Equal(t, order.EventProofAttached, f.events[0].Kind)

	_, err = f.engine.AttachPaymentProof(ctx, o.ID, "https://files.example/proof-1001.jpg", "cust-1")
	require.NoError(t, err)
	assert.Len(t, f.events, 1)
	assert.Equal(t, []string{audit.ActionCreateOrder, audit.ActionUploadPaymentProof}, f.actions())

	_, err = f.engine.AttachPaymentProof(ctx, o.ID, "", "cust-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	f.transition(t, order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
	_, err = f.engine.AttachPaymentProof(ctx, o.ID, "https://files.example/other.jpg", "cust-1")
	assert.ErrorIs(t, err, apperr.ErrIneligibleState)
}

func TestCompletePickup(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	ctx := context.Background()

	_, err := f.engine.CompletePickup(ctx, o.ID, "admin-1")
	assert.ErrorIs(t, err, apperr.ErrIneligibleState)

	f.toReady(t, o.ID)
	before := len(f.store.AuditEntries())

	got, err := f.engine.CompletePickup(ctx, o.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.Equal(t, order.PickupPickedUp, got.PickupStatus)

	entries := f.store.AuditEntries()[before:]
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionMarkPickedUp, entries[0].Action)
	assert.Equal(t, audit.ActionUpdateOrderStatus, entries[1].Action)

	_, err = f.engine.CompletePickup(ctx, o.ID, "admin-1")
	require.NoError(t, err)
	assert.Len(t, f.store.AuditEntries(), before+2)
}

func TestStoreFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.store.FailTransitions(o.ID, errors.New("connection reset"))

	_, err := f.engine.Transition(context.Background(), order.Request{OrderID: o.ID, PaymentStatus: order.PaymentFailed})
	assert.ErrorIs(t, err, apperr.ErrTransientStore)
	assert.Equal(t, "TRANSIENT_STORE", apperr.Code(err))

	_, err = f.engine.Transition(context.Background(), order.Request{OrderID: "missing", PaymentStatus: order.PaymentFailed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrTransientStore)
}
