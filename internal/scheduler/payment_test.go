package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/scheduler"
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

func (c *clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store      *memory.Store
	clock      *clock
	engine     *order.Engine
	dispatcher *notification.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), clock: &clock{now: t0}}
	h.store.AddUser(memory.User{ID: "admin-1", Role: memory.RoleAdmin})
	h.dispatcher = notification.NewDispatcher(h.store, discard(), notification.WithClock(h.clock.Now))
	h.engine = order.NewEngine(h.store, discard(), order.WithClock(h.clock.Now))
	h.engine.Subscribe(notification.NewTransitionNotifier(h.dispatcher, discard()))
	return h
}

func (h *harness) createOrder(t *testing.T, userID string, pickup *time.Time) *order.Order {
	t.Helper()
	o, err := h.engine.CreateOrder(context.Background(), order.Draft{
		UserID:         userID,
		SubtotalAmount: 250000,
		ServiceFee:     10000,
		PickupDate:     pickup,
	})
	require.NoError(t, err)
	return o
}

func (h *harness) payments() *scheduler.PaymentReminders {
	return scheduler.NewPaymentReminders(h.store, h.engine, h.dispatcher, scheduler.DefaultPaymentConfig(), discard()).
		WithClock(h.clock.Now)
}

func run(t *testing.T, task scheduler.Task) map[string]scheduler.SweepReport {
	t.Helper()
	reports, err := task.Run(context.Background())
	require.NoError(t, err)
	out := make(map[string]scheduler.SweepReport, len(reports))
	for _, r := range reports {
		out[r.Sweep] = r
	}
	return out
}

func TestPaymentWindows(t *testing.T) {
	cfg := scheduler.DefaultPaymentConfig()

	assert.False(t, cfg.ReminderWindow().Contains(22*time.Hour+59*time.Minute))
	assert.True(t, cfg.ReminderWindow().Contains(23*time.Hour))
	assert.False(t, cfg.ReminderWindow().Contains(23*time.Hour+30*time.Minute))
	assert.True(t, cfg.WarningWindow().Contains(23*time.Hour+30*time.Minute))
	assert.False(t, cfg.WarningWindow().Contains(24*time.Hour))
	assert.True(t, cfg.ExpiryWindow().Contains(24*time.Hour))
	assert.True(t, cfg.ExpiryWindow().Contains(72*time.Hour))
}

func TestPaymentTimeline(t *testing.T) {
	h := newHarness(t)
	task := h.payments()
	o := h.createOrder(t, "cust-1", nil)

	h.clock.Set(t0.Add(12 * time.Hour))
	reports := run(t, task)
	assert.Zero(t, reports["payment_reminder"].Scanned)
	assert.Zero(t, reports["payment_expiry"].Scanned)

	h.clock.Set(t0.Add(23*time.Hour + 10*time.Minute))
	reports = run(t, task)
	assert.Equal(t, 1, reports["payment_reminder"].Processed)
	reports = run(t, task)
	assert.Equal(t, 1, reports["payment_reminder"].Skipped)

	reminders := h.store.NotificationsFor("cust-1", notification.TypePaymentReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, "1001", reminders[0].Payload["orderNumber"])
	assert.Equal(t, "11 Jul 2025 08:00 UTC", reminders[0].Payload["deadline"])

	h.clock.Set(t0.Add(23*time.Hour + 45*time.Minute))
	run(t, task)
	run(t, task)
	assert.Len(t, h.store.NotificationsFor("cust-1", notification.TypePaymentDeadlineWarning), 1)
	assert.Len(t, h.store.NotificationsFor("cust-1", notification.TypePaymentReminder), 1)

	h.clock.Set(t0.Add(24 * time.Hour))
	reports = run(t, task)
	assert.Equal(t, 1, reports["payment_expiry"].Processed)
	assert.Zero(t, reports["payment_deadline_warning"].Scanned)

	got, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, order.PaymentFailed, got.Payment.Status)
	assert.Equal(t, scheduler.ExpiredReason, got.Notes)

	entries := h.store.AuditEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, order.ActorSystem, last.ActorID)
	assert.Equal(t, scheduler.ExpiredReason, last.Details["reason"])

	cancelled := h.store.NotificationsFor("cust-1", notification.TypeOrderCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, scheduler.ExpiredReason, cancelled[0].Payload["reason"])
	assert.Len(t, h.store.NotificationsFor("admin-1", notification.TypeOrderCancelledAdmin), 1)

	reports = run(t, task)
	assert.Zero(t, reports["payment_expiry"].Scanned)
}

func TestPaidOrdersAreLeftAlone(t *testing.T) {
	h := newHarness(t)
	task := h.payments()
	o := h.createOrder(t, "cust-1", nil)
	_, err := h.engine.Transition(context.Background(), order.Request{OrderID: o.ID, PaymentStatus: order.PaymentPaid})
	require.NoError(t, err)

	h.clock.Set(t0.Add(30 * time.Hour))
	reports := run(t, task)
	assert.Zero(t, reports["payment_expiry"].Scanned)
	assert.Empty(t, h.store.NotificationsFor("cust-1", notification.TypePaymentReminder))
}

func TestExpiryFailureIsIsolatedAndEscalated(t *testing.T) {
	h := newHarness(t)
	task := h.payments()
	stuck := h.createOrder(t, "cust-1", nil)
	healthy := h.createOrder(t, "cust-2", nil)
	h.store.FailTransitions(stuck.ID, errors.New("lock timeout"))

	h.clock.Set(t0.Add(24*time.Hour + time.Minute))
	reports := run(t, task)
	assert.Equal(t, 2, reports["payment_expiry"].Scanned)
	assert.Equal(t, 1, reports["payment_expiry"].Processed)
	assert.Equal(t, 1, reports["payment_expiry"].Failed)

	got, err := h.engine.Get(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	got, err = h.engine.Get(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)

	// Not overdue enough to escalate yet.
	assert.Empty(t, h.store.NotificationsFor("admin-1", notification.TypeOperationalException))

	h.clock.Set(t0.Add(26*time.Hour + 30*time.Minute))
	run(t, task)
	run(t, task)
	escalations := h.store.NotificationsFor("admin-1", notification.TypeOperationalException)
	require.Len(t, escalations, 1)
	assert.Equal(t, stuck.ID, escalations[0].OrderID)

	h.clock.Set(t0.Add(50*time.Hour + 30*time.Minute))
	run(t, task)
	assert.Len(t, h.store.NotificationsFor("admin-1", notification.TypeOperationalException), 2)

	h.store.FailTransitions(stuck.ID, nil)
	reports = run(t, task)
	assert.Equal(t, 1, reports["payment_expiry"].Processed)
}

func TestPaymentSweepStopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	h.createOrder(t, "cust-1", nil)
	h.clock.Set(t0.Add(25 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := h.payments().Run(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.True(t, r.Interrupted, r.Sweep)
		assert.Zero(t, r.Processed)
	}
}

// cancelOnCommit cancels the run context as soon as a transition commits.
type cancelOnCommit struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s cancelOnCommit) ApplyTransition(ctx context.Context, orderID string, mutate order.MutateFunc) (*order.Order, error) {
	o, err := s.Store.ApplyTransition(ctx, orderID, mutate)
	s.cancel()
	return o, err
}

func TestExpiryNotifiesAfterRunContextEnds(t *testing.T) {
	h := newHarness(t)
	o := h.createOrder(t, "cust-1", nil)
	h.clock.Set(t0.Add(24*time.Hour + time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := order.NewEngine(cancelOnCommit{Store: h.store, cancel: cancel}, discard(), order.WithClock(h.clock.Now))
	engine.Subscribe(notification.NewTransitionNotifier(h.dispatcher, discard()))
	task := scheduler.NewPaymentReminders(h.store, engine, h.dispatcher, scheduler.DefaultPaymentConfig(), discard()).
		WithClock(h.clock.Now)

	_, err := task.Run(ctx)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	got, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Len(t, h.store.NotificationsFor("cust-1", notification.TypeOrderCancelled), 1)
	assert.Len(t, h.store.NotificationsFor("admin-1", notification.TypeOrderCancelledAdmin), 1)
}
