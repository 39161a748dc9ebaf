// Package fulfillment holds the operator actions that move a paid order
// through preparation and pickup.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

// Result is what every controller action returns. Failures are carried in
// Error and Code rather than returned as Go errors.
type Result struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
	Code    string       `json:"code,omitempty"`
	Order   *order.Order `json:"order,omitempty"`
}

type Engine interface {
	Get(ctx context.Context, orderID string) (*order.Order, error)
	Transition(ctx context.Context, req order.Request) (*order.Order, error)
	CompletePickup(ctx context.Context, orderID, actor string) (*order.Order, error)
	AttachPaymentProof(ctx context.Context, orderID, proofURL, actor string) (*order.Order, error)
}

type PickupNotifier interface {
	NotifyReady(ctx context.Context, o order.Order) error
	NotifyPickedUp(ctx context.Context, o order.Order) error
}

type Sender interface {
	Send(ctx context.Context, m notification.Message) error
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

var delayable = []order.Status{order.StatusConfirmed, order.StatusProcessing, order.StatusReady}

type Controller struct {
	engine Engine
	pickup PickupNotifier
	sender Sender
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Controller)

// WithLocation sets the zone customer-facing times are written in, normally
// the venue's.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func NewController(engine Engine, pickup PickupNotifier, sender Sender, auditor Auditor, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		engine: engine,
		pickup: pickup,
		sender: sender,
		audit:  auditor,
		logger: logger,
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) MarkPreparationStarted(ctx context.Context, orderID, actor string) Result {
	return c.guard("preparation started", orderID, func() Result {
		o, err := c.engine.Transition(ctx, order.Request{
			OrderID:     orderID,
			OrderStatus: order.StatusProcessing,
			Actor:       actor,
			Require:     []order.Status{order.StatusConfirmed, order.StatusProcessing},
		})
		if err != nil {
			return c.fail("preparation started", orderID, err)
		}
		return ok(fmt.Sprintf("Order #%s is being prepared", o.OrderNumber), o)
	})
}

// MarkReadyForPickup moves a PROCESSING order to READY and sends the ready
// notification with the venue details.
func (c *Controller) MarkReadyForPickup(ctx context.Context, orderID, actor string) Result {
	return c.guard("ready for pickup", orderID, func() Result {
		o, err := c.engine.Transition(ctx, order.Request{
			OrderID:     orderID,
			OrderStatus: order.StatusReady,
			Actor:       actor,
			Require:     []order.Status{order.StatusProcessing},
		})
		if err != nil {
			return c.fail("ready for pickup", orderID, err)
		}
		if err := c.pickup.NotifyReady(ctx, *o); err != nil {
			c.logger.Warn("ready notification not delivered", "order_id", o.ID, "err", err)
		}
		return ok(fmt.Sprintf("Order #%s is ready for pickup", o.OrderNumber), o)
	})
}

func (c *Controller) MarkPreparationComplete(ctx context.Context, orderID, actor string) Result {
	return c.MarkReadyForPickup(ctx, orderID, actor)
}

// MarkOrderDelayed is informational: the status stays as it is, the delay is
// audited and the customer is told the revised estimate.
func (c *Controller) MarkOrderDelayed(ctx context.Context, orderID, actor, reason string, revisedEstimate *time.Time) Result {
	return c.guard("order delayed", orderID, func() Result {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return c.fail("order delayed", orderID, fmt.Errorf("%w: delay reason is required", apperr.ErrInvalidInput))
		}

		o, err := c.engine.Get(ctx, orderID)
		if err != nil {
			return c.fail("order delayed", orderID, err)
		}
		if !slices.Contains(delayable, o.Status) {
			return c.fail("order delayed", orderID, fmt.Errorf("%w: order %s is %s", apperr.ErrIneligibleState, o.OrderNumber, o.Status))
		}

		estimate := "to be announced"
		details := map[string]any{
			"reason":       reason,
			"order_id":     o.ID,
			"order_number": o.OrderNumber,
			"order_status": string(o.Status),
		}
		payload := map[string]any{"orderNumber": o.OrderNumber, "reason": reason}
		if revisedEstimate != nil {
			estimate = revisedEstimate.In(c.loc).Format("02 Jan 2006 15:04 MST")
			details["revised_estimate"] = revisedEstimate.UTC()
			payload["revisedEstimate"] = revisedEstimate.UTC()
		}

		// Both writes are best effort; failures are logged and counted below.
		_ = c.audit.Record(ctx, audit.NewEntry(actor, audit.ActionOrderDelayed, audit.ResourceOrder, o.ID, details, c.now()))
		_ = c.sender.Send(ctx, notification.Message{
			Type:        notification.TypeOrderDelayed,
			RecipientID: o.UserID,
			Title:       "Order delayed",
			Body:        fmt.Sprintf("Order #%s is delayed: %s. Revised estimate: %s.", o.OrderNumber, reason, estimate),
			OrderID:     o.ID,
			Payload:     payload,
		})

		return ok(fmt.Sprintf("Customer notified of the delay for order #%s", o.OrderNumber), o)
	})
}

func (c *Controller) MarkPickedUp(ctx context.Context, orderID, actor string) Result {
	return c.guard("picked up", orderID, func() Result {
		o, err := c.engine.CompletePickup(ctx, orderID, actor)
		if err != nil {
			return c.fail("picked up", orderID, err)
		}
		if err := c.pickup.NotifyPickedUp(ctx, *o); err != nil {
			c.logger.Warn("pickup notification not delivered", "order_id", o.ID, "err", err)
		}
		return ok(fmt.Sprintf("Order #%s has been picked up", o.OrderNumber), o)
	})
}

func (c *Controller) Cancel(ctx context.Context, orderID, actor, reason string) Result {
	return c.guard("cancel", orderID, func() Result {
		if strings.TrimSpace(reason) == "" {
			reason = "Cancelled by admin"
		}
		o, err := c.engine.Transition(ctx, order.Request{
			OrderID:     orderID,
			OrderStatus: order.StatusCancelled,
			Actor:       actor,
			Reason:      reason,
		})
		if err != nil {
			return c.fail("cancel", orderID, err)
		}
		return ok(fmt.Sprintf("Order #%s cancelled", o.OrderNumber), o)
	})
}

func (c *Controller) AttachPaymentProof(ctx context.Context, orderID, proofURL, actor string) Result {
	return c.guard("attach proof", orderID, func() Result {
		o, err := c.engine.AttachPaymentProof(ctx, orderID, proofURL, actor)
		if err != nil {
			return c.fail("attach proof", orderID, err)
		}
		return ok(fmt.Sprintf("Payment proof saved for order #%s", o.OrderNumber), o)
	})
}

// SetPaymentStatus is the admin verification path for bank transfers.
func (c *Controller) SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus, actor, reason string) Result {
	return c.guard("payment status", orderID, func() Result {
		o, err := c.engine.Transition(ctx, order.Request{
			OrderID:       orderID,
			PaymentStatus: status,
			Actor:         actor,
			Reason:        reason,
		})
		if err != nil {
			return c.fail("payment status", orderID, err)
		}
		return ok(fmt.Sprintf("Payment for order #%s is %s", o.OrderNumber, o.Payment.Status), o)
	})
}

// guard turns a panic inside an action into a failed Result.
func (c *Controller) guard(action, orderID string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("controller action panicked", "action", action, "order_id", orderID, "panic", r)
			res = Result{Error: "internal error", Code: "INTERNAL"}
		}
	}()
	return fn()
}

func (c *Controller) fail(action, orderID string, err error) Result {
	code := apperr.Code(err)
	if code == "TRANSIENT_STORE" || code == "INTERNAL" {
		c.logger.Error("controller action failed", "action", action, "order_id", orderID, "err", err)
	} else {
		c.logger.Info("controller action rejected", "action", action, "order_id", orderID, "code", code, "err", err)
	}
	return Result{Error: err.Error(), Code: code}
}

func ok(msg string, o *order.Order) Result {
	return Result{Success: true, Message: msg, Order: o}
}
