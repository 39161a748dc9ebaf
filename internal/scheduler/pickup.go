package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/config"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

type PickupOrders interface {
	FindOrdersByPickupDate(ctx context.Context, from, to time.Time, statuses []order.Status, limit int) ([]order.Order, error)
}

// PickupReminders sweeps upcoming pickups and sends the on-demand ready and
// picked up notifications.
type PickupReminders struct {
	orders    PickupOrders
	notify    Notifier
	venue     config.Venue
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func NewPickupReminders(orders PickupOrders, notify Notifier, venue config.Venue, batchSize int, logger *slog.Logger) *PickupReminders {
	return &PickupReminders{
		orders:    orders,
		notify:    notify,
		venue:     venue,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *PickupReminders) WithClock(now func() time.Time) *PickupReminders {
	p.now = now
	return p
}

func (p *PickupReminders) Name() string {
	return "pickup-reminders"
}

func (p *PickupReminders) Run(ctx context.Context) ([]SweepReport, error) {
	loc := p.venue.Location()
	now := p.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)
	day := notification.DayKey(now)

	h1 := p.sweep(ctx, "pickup_h1", tomorrow, tomorrow.AddDate(0, 0, 1), func(ctx context.Context, o order.Order) (bool, error) {
		return p.notify.SendOnce(ctx, day, notification.Message{
			Type:        notification.TypePickupReminderH1,
			RecipientID: o.UserID,
			Title:       "Pickup tomorrow",
			Body: fmt.Sprintf("Order #%s is scheduled for pickup tomorrow, %s, at %s (%s).",
				o.OrderNumber, p.pickupDay(o), p.venue.Name, p.venue.Hours),
			OrderID: o.ID,
			Payload: p.venuePayload(o),
		})
	})

	same := p.sweep(ctx, "pickup_today", today, tomorrow, func(ctx context.Context, o order.Order) (bool, error) {
		return p.notify.SendOnce(ctx, day, notification.Message{
			Type:        notification.TypePickupReminderToday,
			RecipientID: o.UserID,
			Title:       "Pickup today",
			Body: fmt.Sprintf("Order #%s can be collected today at %s, %s (%s).",
				o.OrderNumber, p.venue.Name, p.venue.Address, p.venue.Hours),
			OrderID: o.ID,
			Payload: p.venuePayload(o),
		})
	})

	if same.Scanned > 0 && ctx.Err() == nil {
		// A full batch means the day holds more orders than one run reads.
		truncated := p.batchSize > 0 && same.Scanned >= p.batchSize
		count := fmt.Sprintf("%d", same.Scanned)
		if truncated {
			count = "At least " + count
		}
		if _, err := p.notify.BroadcastAdminsOnce(ctx, day, notification.Message{
			Type:    notification.TypePickupTodaySummary,
			Title:   "Pickups due today",
			Body:    fmt.Sprintf("%s order(s) are due for pickup today (%s).", count, day),
			Payload: map[string]any{"date": day, "count": same.Scanned, "truncated": truncated},
		}); err != nil {
			p.logger.Warn("pickup summary not delivered", "day", day, "err", err)
		}
	}

	return []SweepReport{h1, same}, nil
}

func (p *PickupReminders) sweep(ctx context.Context, name string, from, to time.Time, handle handleFunc) SweepReport {
	find := func(ctx context.Context) ([]order.Order, error) {
		return p.orders.FindOrdersByPickupDate(ctx, from, to, order.ActiveStatuses, p.batchSize)
	}
	return sweep(ctx, p.logger, name, find, handle)
}

// NotifyReady tells the customer the order can be collected, with the venue
// location and hours.
func (p *PickupReminders) NotifyReady(ctx context.Context, o order.Order) error {
	_, err := p.notify.SendOnce(ctx, "", notification.Message{
		Type:        notification.TypeOrderReady,
		RecipientID: o.UserID,
		Title:       "Order ready for pickup",
		Body: fmt.Sprintf("Order #%s is ready. Collect it at %s, %s. Opening hours: %s.",
			o.OrderNumber, p.venue.Name, p.venue.Address, p.venue.Hours),
		OrderID: o.ID,
		Payload: p.venuePayload(o),
	})
	return err
}

func (p *PickupReminders) NotifyPickedUp(ctx context.Context, o order.Order) error {
	_, err := p.notify.SendOnce(ctx, "", notification.Message{
		Type:        notification.TypeOrderCompleted,
		RecipientID: o.UserID,
		Title:       "Order picked up",
		Body:        fmt.Sprintf("Order #%s has been picked up. Thank you!", o.OrderNumber),
		OrderID:     o.ID,
		Payload:     map[string]any{"orderNumber": o.OrderNumber},
	})
	return err
}

func (p *PickupReminders) pickupDay(o order.Order) string {
	if o.PickupDate == nil {
		return "-"
	}
	return o.PickupDate.In(p.venue.Location()).Format("Monday, 02 Jan 2006")
}

func (p *PickupReminders) venuePayload(o order.Order) map[string]any {
	return map[string]any{
		"orderNumber":    o.OrderNumber,
		"pickupDate":     p.pickupDay(o),
		"pickupLocation": p.venue.Name + ", " + p.venue.Address,
		"pickupHours":    p.venue.Hours,
		"contact":        p.venue.Contact,
	}
}
