package order

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"

	"github.com/google/uuid"
)

// Request asks the engine to move an order or its payment to a new status.
// Exactly one of OrderStatus and PaymentStatus must be set.
type Request struct {
	OrderID       string
	OrderStatus   Status
	PaymentStatus PaymentStatus
	Actor         string
	Reason        string
	// Require, when set, rejects the request with ErrIneligibleState unless the
	// locked order is in one of these states.
	Require []Status
}

type Draft struct {
	UserID         string
	SubtotalAmount int64
	ServiceFee     int64
	PickupDate     *time.Time
	Method         string
	Actor          string
}

type Engine struct {
	store          Store
	handlers       []EventHandler
	logger         *slog.Logger
	now            func() time.Time
	handlerTimeout time.Duration
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHandlerTimeout bounds how long the post-commit handlers of one change
// may run.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.handlerTimeout = d
		}
	}
}

func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		logger:         logger,
		now:            time.Now,
		handlerTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers h for events committed after this call. It is not safe
// to call concurrently with transitions.
func (e *Engine) Subscribe(h EventHandler) {
	e.handlers = append(e.handlers, h)
}

func (e *Engine) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Transient("get order", err)
	}
	return o, nil
}

func (e *Engine) CreateOrder(ctx context.Context, d Draft) (*Order, error) {
	if d.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperr.ErrInvalidInput)
	}
	if d.SubtotalAmount <= 0 {
		return nil, fmt.Errorf("%w: subtotal must be positive", apperr.ErrInvalidInput)
	}
	if d.ServiceFee < 0 {
		return nil, fmt.Errorf("%w: service fee must not be negative", apperr.ErrInvalidInput)
	}
	if d.Method == "" {
		d.Method = MethodBankTransfer
	}
	actor := d.Actor
	if actor == "" {
		actor = d.UserID
	}

	now := e.now().UTC()
	total := d.SubtotalAmount + d.ServiceFee
	o := &Order{
		ID:             uuid.New().String(),
		UserID:         d.UserID,
		SubtotalAmount: d.SubtotalAmount,
		ServiceFee:     d.ServiceFee,
		TotalAmount:    total,
		Status:         StatusPending,
		PickupDate:     d.PickupDate,
		PickupStatus:   PickupNotPickedUp,
		Payment: Payment{
			ID:        uuid.New().String(),
			Status:    PaymentPending,
			Method:    d.Method,
			Amount:    total,
			CreatedAt: now,
			UpdatedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	entry := audit.NewEntry(actor, audit.ActionCreateOrder, audit.ResourceOrder, o.ID, map[string]any{
		"subtotal_amount": o.SubtotalAmount,
		"service_fee":     o.ServiceFee,
		"total_amount":    o.TotalAmount,
	}, now)

	if err := e.store.CreateOrder(ctx, o, entry); err != nil {
		return nil, apperr.Transient("create order", err)
	}

	e.publish(ctx, []Event{{Kind: EventCreated, Order: *o, To: string(StatusPending), Actor: actor, At: now}})
	return o, nil
}

// Transition validates and applies one status change together with its
// cascades and audit entries. Requesting the current status is a no-op.
func (e *Engine) Transition(ctx context.Context, req Request) (*Order, error) {
	if (req.OrderStatus == "") == (req.PaymentStatus == "") {
		return nil, fmt.Errorf("%w: exactly one target status is required", apperr.ErrInvalidInput)
	}
	if req.OrderStatus != "" && !req.OrderStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", apperr.ErrInvalidInput, req.OrderStatus)
	}
	if req.PaymentStatus != "" && !req.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", apperr.ErrInvalidInput, req.PaymentStatus)
	}
	if req.Actor == "" {
		req.Actor = ActorSystem
	}

	var c *change
	updated, err := e.store.ApplyTransition(ctx, req.OrderID, func(o *Order) ([]audit.Entry, error) {
		c = &change{now: e.now().UTC(), actor: req.Actor, reason: req.Reason}
		if len(req.Require) > 0 && !slices.Contains(req.Require, o.Status) {
			return nil, fmt.Errorf("%w: order %s is %s", apperr.ErrIneligibleState, o.OrderNumber, o.Status)
		}
		var err error
		if req.PaymentStatus != "" {
			err = c.setPayment(o, req.PaymentStatus, true)
		} else {
			err = c.setOrder(o, req.OrderStatus, true)
		}
		if err != nil {
			return nil, err
		}
		return c.entries, nil
	})
	if err != nil {
		return nil, apperr.Transient("apply transition", err)
	}

	e.publish(ctx, c.finish(*updated))
	return updated, nil
}

func (e *Engine) AttachPaymentProof(ctx context.Context, orderID, proofURL, actor string) (*Order, error) {
	if proofURL == "" {
		return nil, fmt.Errorf("%w: proof url is required", apperr.ErrInvalidInput)
	}

	var c *change
	updated, err := e.store.ApplyTransition(ctx, orderID, func(o *Order) ([]audit.Entry, error) {
		c = &change{now: e.now().UTC(), actor: actor}
		if o.Payment.Status != PaymentPending {
			return nil, fmt.Errorf("%w: payment is %s", apperr.ErrIneligibleState, o.Payment.Status)
		}
		if o.Payment.ProofURL == proofURL {
			return nil, nil
		}
		o.Payment.ProofURL = proofURL
		o.Payment.UpdatedAt = c.now
		o.UpdatedAt = c.now
		c.record(o, audit.ActionUploadPaymentProof, audit.ResourcePayment, o.Payment.ID, map[string]any{"proof_url": proofURL})
		c.emit(EventProofAttached, "", "")
		return c.entries, nil
	})
	if err != nil {
		return nil, apperr.Transient("attach payment proof", err)
	}

	e.publish(ctx, c.finish(*updated))
	return updated, nil
}

// CompletePickup marks a READY order as picked up and completes it in one
// transaction. Repeating it on a completed, picked up order is a no-op.
func (e *Engine) CompletePickup(ctx context.Context, orderID, actor string) (*Order, error) {
	var c *change
	updated, err := e.store.ApplyTransition(ctx, orderID, func(o *Order) ([]audit.Entry, error) {
		c = &change{now: e.now().UTC(), actor: actor}
		if o.Status == StatusCompleted && o.PickupStatus == PickupPickedUp {
			return nil, nil
		}
		if o.Status != StatusReady {
			return nil, fmt.Errorf("%w: order %s is %s", apperr.ErrIneligibleState, o.OrderNumber, o.Status)
		}
		o.PickupStatus = PickupPickedUp
		c.record(o, audit.ActionMarkPickedUp, audit.ResourceOrder, o.ID, map[string]any{
			"from": string(PickupNotPickedUp),
			"to":   string(PickupPickedUp),
		})
		if err := c.setOrder(o, StatusCompleted, false); err != nil {
			return nil, err
		}
		c.emit(EventPickedUp, string(PickupNotPickedUp), string(PickupPickedUp))
		return c.entries, nil
	})
	if err != nil {
		return nil, apperr.Transient("complete pickup", err)
	}

	e.publish(ctx, c.finish(*updated))
	return updated, nil
}

// publish runs after the commit. Handlers get a context detached from the
// caller's so a cancelled request or sweep cannot drop the notifications of a
// change that is already durable.
func (e *Engine) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.handlerTimeout)
	defer cancel()

	for _, evt := range events {
		switch evt.Kind {
		case EventStatusChanged:
			metrics.TransitionsTotal.WithLabelValues(audit.ResourceOrder, evt.To).Inc()
		case EventPaymentStatusChanged:
			metrics.TransitionsTotal.WithLabelValues(audit.ResourcePayment, evt.To).Inc()
		}
		e.logger.Info("order event",
			"kind", evt.Kind, "order_id", evt.Order.ID, "order_number", evt.Order.OrderNumber,
			"from", evt.From, "to", evt.To, "actor", evt.Actor)
		for _, h := range e.handlers {
			h.HandleOrderEvent(hctx, evt)
		}
	}
}

// change accumulates the audit entries and events of one transaction.
type change struct {
	now     time.Time
	actor   string
	reason  string
	entries []audit.Entry
	events  []Event
}

func (c *change) setOrder(o *Order, to Status, cascade bool) error {
	from := o.Status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: order %s -> %s", apperr.ErrInvalidTransition, from, to)
	}
	c.moveOrder(o, to)

	if !cascade {
		return nil
	}
	switch to {
	case StatusConfirmed:
		if o.Payment.Status == PaymentPending {
			c.movePayment(o, PaymentPaid)
		}
	case StatusCancelled:
		switch o.Payment.Status {
		case PaymentPending:
			c.movePayment(o, PaymentFailed)
		case PaymentPaid:
			c.movePayment(o, PaymentRefunded)
		}
	}
	return nil
}

func (c *change) setPayment(o *Order, to PaymentStatus, cascade bool) error {
	from := o.Payment.Status
	if from == to {
		return nil
	}
	if !CanTransitionPayment(from, to) {
		return fmt.Errorf("%w: payment %s -> %s", apperr.ErrInvalidTransition, from, to)
	}
	if to == PaymentPaid && o.Status == StatusCancelled {
		return fmt.Errorf("%w: payment %s -> %s on a cancelled order", apperr.ErrInvalidTransition, from, to)
	}
	c.movePayment(o, to)

	if !cascade {
		return nil
	}
	switch to {
	case PaymentPaid:
		if o.Status == StatusPending {
			c.moveOrder(o, StatusConfirmed)
		}
	case PaymentFailed, PaymentRefunded:
		// Cancellation cascades from any non-terminal state, READY included.
		if !o.Status.Terminal() {
			c.moveOrder(o, StatusCancelled)
		}
	}
	return nil
}

func (c *change) moveOrder(o *Order, to Status) {
	from := o.Status
	o.Status = to
	o.UpdatedAt = c.now
	if to == StatusCancelled && c.reason != "" {
		o.Notes = c.reason
	}
	c.record(o, audit.ActionUpdateOrderStatus, audit.ResourceOrder, o.ID, c.details(from, to))
	c.emit(EventStatusChanged, string(from), string(to))
}

func (c *change) movePayment(o *Order, to PaymentStatus) {
	from := o.Payment.Status
	o.Payment.Status = to
	o.Payment.UpdatedAt = c.now
	o.UpdatedAt = c.now
	c.record(o, audit.ActionUpdatePaymentStatus, audit.ResourcePayment, o.Payment.ID, c.details(from, to))
	c.emit(EventPaymentStatusChanged, string(from), string(to))
}

func (c *change) details(from, to any) map[string]any {
	d := map[string]any{"from": from, "to": to}
	if c.reason != "" {
		d["reason"] = c.reason
	}
	return d
}

func (c *change) record(o *Order, action, resource, resourceID string, details map[string]any) {
	details["order_id"] = o.ID
	if o.OrderNumber != "" {
		details["order_number"] = o.OrderNumber
	}
	c.entries = append(c.entries, audit.NewEntry(c.actor, action, resource, resourceID, details, c.now))
}

func (c *change) emit(kind EventKind, from, to string) {
	c.events = append(c.events, Event{Kind: kind, From: from, To: to, Actor: c.actor, Reason: c.reason, At: c.now})
}

// finish stamps the committed order onto every event. A nil change means
// mutate never ran.
func (c *change) finish(o Order) []Event {
	if c == nil || len(c.entries) == 0 {
		return nil
	}
	for i := range c.events {
		c.events[i].Order = o
	}
	return c.events
}
