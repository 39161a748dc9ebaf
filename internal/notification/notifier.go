package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

// TransitionNotifier turns committed order events into notifications.
// READY and COMPLETED are announced by the pickup notifier, which carries
// venue details, so they are skipped here.
type TransitionNotifier struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewTransitionNotifier(d *Dispatcher, logger *slog.Logger) *TransitionNotifier {
	return &TransitionNotifier{dispatcher: d, logger: logger}
}

func (n *TransitionNotifier) HandleOrderEvent(ctx context.Context, evt order.Event) {
	o := evt.Order
	base := map[string]any{
		"orderNumber": o.OrderNumber,
		"totalAmount": o.TotalAmount,
	}

	switch evt.Kind {
	case order.EventCreated:
		n.once(ctx, Message{
			Type:        TypeOrderCreated,
			RecipientID: o.UserID,
			Title:       "Order received",
			Body: fmt.Sprintf("Order #%s for %s has been placed. Please transfer the payment and upload the proof within 24 hours.",
				o.OrderNumber, order.FormatAmount(o.TotalAmount)),
			OrderID: o.ID,
			Payload: base,
		})
		n.adminsOnce(ctx, Message{
			Type:    TypeNewOrder,
			Title:   "New order",
			Body:    fmt.Sprintf("Order #%s (%s) is waiting for payment.", o.OrderNumber, order.FormatAmount(o.TotalAmount)),
			OrderID: o.ID,
			Payload: base,
		})

	case order.EventProofAttached:
		if _, err := n.dispatcher.BroadcastAdmins(ctx, Message{
			Type:    TypePaymentProofUploaded,
			Title:   "Payment proof uploaded",
			Body:    fmt.Sprintf("Order #%s has a new bank transfer proof to verify.", o.OrderNumber),
			OrderID: o.ID,
			Payload: map[string]any{"orderNumber": o.OrderNumber, "proofUrl": o.Payment.ProofURL},
		}); err != nil {
			n.logger.Warn("proof notification incomplete", "order_id", o.ID, "err", err)
		}

	case order.EventStatusChanged:
		n.orderStatus(ctx, evt, base)

	case order.EventPaymentStatusChanged:
		if order.PaymentStatus(evt.To) == order.PaymentRefunded {
			n.once(ctx, Message{
				Type:        TypePaymentRefunded,
				RecipientID: o.UserID,
				Title:       "Payment refunded",
				Body:        fmt.Sprintf("The payment of %s for order #%s has been refunded.", order.FormatAmount(o.Payment.Amount), o.OrderNumber),
				OrderID:     o.ID,
				Payload:     base,
			})
		}
	}
}

func (n *TransitionNotifier) orderStatus(ctx context.Context, evt order.Event, base map[string]any) {
	o := evt.Order
	switch order.Status(evt.To) {
	case order.StatusConfirmed:
		n.once(ctx, Message{
			Type:        TypeOrderConfirmed,
			RecipientID: o.UserID,
			Title:       "Payment confirmed",
			Body:        fmt.Sprintf("We received your payment for order #%s. Your bundle is now confirmed.", o.OrderNumber),
			OrderID:     o.ID,
			Payload:     base,
		})
	case order.StatusProcessing:
		n.once(ctx, Message{
			Type:        TypeOrderProcessing,
			RecipientID: o.UserID,
			Title:       "Order in preparation",
			Body:        fmt.Sprintf("Order #%s is being prepared.", o.OrderNumber),
			OrderID:     o.ID,
			Payload:     base,
		})
	case order.StatusCancelled:
		payload := map[string]any{"orderNumber": o.OrderNumber, "reason": evt.Reason}
		reason := evt.Reason
		if reason == "" {
			reason = "cancelled"
		}
		n.once(ctx, Message{
			Type:        TypeOrderCancelled,
			RecipientID: o.UserID,
			Title:       "Order cancelled",
			Body:        fmt.Sprintf("Order #%s has been cancelled (%s).", o.OrderNumber, reason),
			OrderID:     o.ID,
			Payload:     payload,
		})
		n.adminsOnce(ctx, Message{
			Type:    TypeOrderCancelledAdmin,
			Title:   "Order cancelled",
			Body:    fmt.Sprintf("Order #%s by user %s was cancelled by %s (%s).", o.OrderNumber, o.UserID, evt.Actor, reason),
			OrderID: o.ID,
			Payload: payload,
		})
	}
}

func (n *TransitionNotifier) once(ctx context.Context, m Message) {
	if _, err := n.dispatcher.SendOnce(ctx, "", m); err != nil {
		n.logger.Warn("transition notification skipped", "type", m.Type, "order_id", m.OrderID, "err", err)
	}
}

func (n *TransitionNotifier) adminsOnce(ctx context.Context, m Message) {
	if _, err := n.dispatcher.BroadcastAdminsOnce(ctx, "", m); err != nil {
		n.logger.Warn("admin notification incomplete", "type", m.Type, "order_id", m.OrderID, "err", err)
	}
}
