package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"

	"github.com/google/uuid"
)

// Pusher delivers a freshly stored record to live connections.
type Pusher interface {
	Push(recipientID string, r Record)
}

type Dispatcher struct {
	store  Store
	pusher Pusher
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Dispatcher)

func WithPusher(p Pusher) Option {
	return func(d *Dispatcher) { d.pusher = p }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send persists one record. Delivery is best effort: a failure is logged,
// counted and returned as a non-fatal error the caller may ignore.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	_, err := d.insert(ctx, m, "")
	return err
}

// Seen reports whether the ledger already holds key.
func (d *Dispatcher) Seen(ctx context.Context, key LedgerKey) (bool, error) {
	ok, err := d.store.NotificationExists(ctx, key.String())
	if err != nil {
		return false, d.nonFatal("ledger lookup", keyAttrs(key), err)
	}
	return ok, nil
}

// SendOnce sends m unless the ledger already has it for the given day ("" for
// the order's lifetime). It reports whether a record was written.
func (d *Dispatcher) SendOnce(ctx context.Context, day string, m Message) (bool, error) {
	key := KeyFor(m, day)
	seen, err := d.Seen(ctx, key)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	// The unique dedup key settles races between concurrent senders.
	return d.insert(ctx, m, key.String())
}

// BroadcastAdmins sends m to every admin and returns how many were written.
func (d *Dispatcher) BroadcastAdmins(ctx context.Context, m Message) (int, error) {
	return d.broadcast(ctx, m, func(m Message) (bool, error) {
		_, err := d.insert(ctx, m, "")
		return err == nil, err
	})
}

func (d *Dispatcher) BroadcastAdminsOnce(ctx context.Context, day string, m Message) (int, error) {
	return d.broadcast(ctx, m, func(m Message) (bool, error) {
		return d.SendOnce(ctx, day, m)
	})
}

func (d *Dispatcher) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]Record, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	records, total, err := d.store.ListNotifications(ctx, recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, apperr.Transient("list notifications", err)
	}
	return records, total, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, recipientID, id string) error {
	if err := d.store.MarkNotificationRead(ctx, recipientID, id); err != nil {
		return apperr.Transient("mark notification read", err)
	}
	return nil
}

func (d *Dispatcher) broadcast(ctx context.Context, m Message, send func(Message) (bool, error)) (int, error) {
	admins, err := d.store.AdminUserIDs(ctx)
	if err != nil {
		return 0, d.nonFatal("list admins", []any{"type", m.Type, "order_id", m.OrderID}, err)
	}

	var (
		sent int
		errs []error
	)
	for _, id := range admins {
		msg := m
		msg.RecipientID = id
		msg.Payload = maps.Clone(m.Payload)
		ok, err := send(msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) insert(ctx context.Context, m Message, dedupKey string) (bool, error) {
	payload := maps.Clone(m.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	if m.OrderID != "" {
		payload["orderId"] = m.OrderID
	}

	r := Record{
		ID:          uuid.New().String(),
		RecipientID: m.RecipientID,
		Type:        m.Type,
		Title:       m.Title,
		Message:     m.Body,
		OrderID:     m.OrderID,
		Payload:     payload,
		DedupKey:    dedupKey,
		CreatedAt:   d.now().UTC(),
	}

	inserted, err := d.store.InsertNotification(ctx, r)
	if err != nil {
		return false, d.nonFatal("insert", []any{"type", m.Type, "recipient_id", m.RecipientID, "order_id", m.OrderID}, err)
	}
	if !inserted {
		return false, nil
	}

	metrics.NotificationsTotal.WithLabelValues(string(r.Type)).Inc()
	if d.pusher != nil {
		d.pusher.Push(r.RecipientID, r)
	}
	return true, nil
}

func (d *Dispatcher) nonFatal(op string, attrs []any, err error) error {
	metrics.NonFatalErrorsTotal.WithLabelValues("notification").Inc()
	d.logger.Error("notification "+op+" failed", append(attrs, "err", err)...)
	return apperr.NonFatal("notification", op, fmt.Errorf("%w: %w", apperr.ErrNotificationDelivery, err))
}

func keyAttrs(k LedgerKey) []any {
	return []any{"type", k.Type, "recipient_id", k.RecipientID, "order_id", k.OrderID, "day", k.Day}
}
