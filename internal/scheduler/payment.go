package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

const ExpiredReason = "Payment expired - auto-cancelled"

type PaymentOrders interface {
	FindOrdersByPaymentAge(ctx context.Context, status order.PaymentStatus, window order.AgeWindow, now time.Time, limit int) ([]order.Order, error)
}

type Transitioner interface {
	Transition(ctx context.Context, req order.Request) (*order.Order, error)
}

type PaymentConfig struct {
	// Window is how long a customer has to pay.
	Window time.Duration
	// ReminderLead and WarningLead are how long before the deadline the
	// reminder and warning windows open.
	ReminderLead  time.Duration
	WarningLead   time.Duration
	EscalateAfter time.Duration
	BatchSize     int
	Location      *time.Location
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		Window:        24 * time.Hour,
		ReminderLead:  time.Hour,
		WarningLead:   30 * time.Minute,
		EscalateAfter: 2 * time.Hour,
		BatchSize:     200,
		Location:      time.UTC,
	}
}

func (c PaymentConfig) ReminderWindow() order.AgeWindow {
	return order.AgeWindow{Min: c.Window - c.ReminderLead, Max: c.Window - c.WarningLead}
}

func (c PaymentConfig) WarningWindow() order.AgeWindow {
	return order.AgeWindow{Min: c.Window - c.WarningLead, Max: c.Window}
}

func (c PaymentConfig) ExpiryWindow() order.AgeWindow {
	return order.AgeWindow{Min: c.Window}
}

// PaymentReminders runs the reminder, deadline warning and expiry sweeps
// over orders whose payment is still pending.
type PaymentReminders struct {
	orders PaymentOrders
	engine Transitioner
	notify Notifier
	cfg    PaymentConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewPaymentReminders(orders PaymentOrders, engine Transitioner, notify Notifier, cfg PaymentConfig, logger *slog.Logger) *PaymentReminders {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &PaymentReminders{
		orders: orders,
		engine: engine,
		notify: notify,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (p *PaymentReminders) WithClock(now func() time.Time) *PaymentReminders {
	p.now = now
	return p
}

func (p *PaymentReminders) Name() string {
	return "payment-reminders"
}

func (p *PaymentReminders) Run(ctx context.Context) ([]SweepReport, error) {
	now := p.now().UTC()
	return []SweepReport{
		p.sweep(ctx, "payment_reminder", p.cfg.ReminderWindow(), now, p.remind),
		p.sweep(ctx, "payment_deadline_warning", p.cfg.WarningWindow(), now, p.warn),
		p.sweep(ctx, "payment_expiry", p.cfg.ExpiryWindow(), now, func(ctx context.Context, o order.Order) (bool, error) {
			return p.expire(ctx, o, now)
		}),
	}, nil
}

func (p *PaymentReminders) sweep(ctx context.Context, name string, window order.AgeWindow, now time.Time, handle handleFunc) SweepReport {
	find := func(ctx context.Context) ([]order.Order, error) {
		return p.orders.FindOrdersByPaymentAge(ctx, order.PaymentPending, window, now, p.cfg.BatchSize)
	}
	return sweep(ctx, p.logger, name, find, handle)
}

func (p *PaymentReminders) remind(ctx context.Context, o order.Order) (bool, error) {
	deadline := p.deadline(o)
	return p.notify.SendOnce(ctx, "", notification.Message{
		Type:        notification.TypePaymentReminder,
		RecipientID: o.UserID,
		Title:       "Payment reminder",
		Body: fmt.Sprintf("Order #%s (%s) is still waiting for payment. Please transfer and upload your proof before %s.",
			o.OrderNumber, order.FormatAmount(o.TotalAmount), deadline),
		OrderID: o.ID,
		Payload: map[string]any{"orderNumber": o.OrderNumber, "totalAmount": o.TotalAmount, "deadline": deadline},
	})
}

func (p *PaymentReminders) warn(ctx context.Context, o order.Order) (bool, error) {
	deadline := p.deadline(o)
	return p.notify.SendOnce(ctx, "", notification.Message{
		Type:        notification.TypePaymentDeadlineWarning,
		RecipientID: o.UserID,
		Title:       "Payment deadline approaching",
		Body: fmt.Sprintf("Order #%s will be cancelled automatically at %s unless payment for %s is received.",
			o.OrderNumber, deadline, order.FormatAmount(o.TotalAmount)),
		OrderID: o.ID,
		Payload: map[string]any{"orderNumber": o.OrderNumber, "totalAmount": o.TotalAmount, "deadline": deadline},
	})
}

// expire fails the payment, which cancels the order in the same transaction.
// Cancellation notifications follow from the committed transition.
func (p *PaymentReminders) expire(ctx context.Context, o order.Order, now time.Time) (bool, error) {
	_, err := p.engine.Transition(ctx, order.Request{
		OrderID:       o.ID,
		PaymentStatus: order.PaymentFailed,
		Actor:         order.ActorSystem,
		Reason:        ExpiredReason,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
		// Paid or removed since the query ran.
		p.logger.Info("expiry skipped", "order_id", o.ID, "reason", err)
		return false, nil
	}

	p.escalate(ctx, o, now, err)
	return false, err
}

// escalate tells admins, once per order per day, about an expired order the
// sweep keeps failing to cancel. Retries continue regardless.
func (p *PaymentReminders) escalate(ctx context.Context, o order.Order, now time.Time, cause error) {
	if o.Age(now) < p.cfg.Window+p.cfg.EscalateAfter {
		return
	}
	day := notification.DayKey(now.In(p.cfg.Location))
	_, err := p.notify.BroadcastAdminsOnce(ctx, day, notification.Message{
		Type:  notification.TypeOperationalException,
		Title: "Automatic cancellation failing",
		Body: fmt.Sprintf("Order #%s passed its payment deadline at %s but could not be cancelled automatically: %v. Manual review needed.",
			o.OrderNumber, p.deadline(o), cause),
		OrderID: o.ID,
		Payload: map[string]any{"orderNumber": o.OrderNumber, "error": cause.Error()},
	})
	if err != nil {
		p.logger.Warn("escalation not delivered", "order_id", o.ID, "err", err)
	}
}

func (p *PaymentReminders) deadline(o order.Order) string {
	return o.CreatedAt.Add(p.cfg.Window).In(p.cfg.Location).Format("02 Jan 2006 15:04 MST")
}
