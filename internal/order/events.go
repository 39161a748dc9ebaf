package order

import (
	"context"
	"time"
)

type EventKind string

const (
	EventCreated              EventKind = "order.created"
	EventStatusChanged        EventKind = "order.status_changed"
	EventPaymentStatusChanged EventKind = "payment.status_changed"
	EventProofAttached        EventKind = "payment.proof_attached"
	EventPickedUp             EventKind = "order.picked_up"
)

// Event describes one committed change. Order is the state after the whole
// transaction, so cascaded changes are already visible in it.
type Event struct {
	Kind   EventKind
	Order  Order
	From   string
	To     string
	Actor  string
	Reason string
	At     time.Time
}

// EventHandler consumes committed events. Handlers run after the
// transaction and cannot fail it.
type EventHandler interface {
	HandleOrderEvent(ctx context.Context, evt Event)
}

type EventHandlerFunc func(ctx context.Context, evt Event)

func (f EventHandlerFunc) HandleOrderEvent(ctx context.Context, evt Event) {
	f(ctx, evt)
}
