// Package intake applies payment provider reports arriving over HTTP or the
// broker.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/contracts"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/messaging"
)

// Inbox remembers processed report ids so redelivered reports are skipped.
type Inbox interface {
	InboxSeen(ctx context.Context, eventID string) (bool, error)
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)
}

type PaymentApplier interface {
	ApplyPaymentUpdate(ctx context.Context, u order.PaymentUpdate, actor string) (*order.Order, error)
}

type Payments struct {
	engine PaymentApplier
	inbox  Inbox
	logger *slog.Logger
}

func NewPayments(engine PaymentApplier, inbox Inbox, logger *slog.Logger) *Payments {
	return &Payments{engine: engine, inbox: inbox, logger: logger}
}

// Handle normalizes and applies one report. duplicate is true when the
// report id was already processed; the order is nil then.
func (p *Payments) Handle(ctx context.Context, evt contracts.PaymentReportedEvent) (o *order.Order, duplicate bool, err error) {
	if evt.EventID != "" {
		seen, err := p.inbox.InboxSeen(ctx, evt.EventID)
		if err != nil {
			return nil, false, apperr.Transient("check inbox", err)
		}
		if seen {
			p.logger.Info("payment report already processed", "event_id", evt.EventID)
			return nil, true, nil
		}
	}

	u := order.NormalizeWebhook(evt.PaymentID, evt.Status, evt.Amount)
	o, err = p.engine.ApplyPaymentUpdate(ctx, u, order.ActorPaymentWebhook)
	if err != nil {
		return nil, false, err
	}

	if evt.EventID != "" {
		// Reapplying a report is a same-state no-op, so a lost inbox row only
		// costs a redundant lookup.
		if _, err := p.inbox.RecordInbox(ctx, evt.EventID, contracts.EventPaymentReported); err != nil {
			p.logger.Warn("payment report not recorded in inbox", "event_id", evt.EventID, "err", err)
		}
	}

	p.logger.Info("payment report applied",
		"payment_id", u.PaymentID, "provider_status", evt.Status, "status", u.Status,
		"order_id", o.ID, "order_status", o.Status)
	return o, false, nil
}

// Consume is the broker handler. Reports the engine rejects are dropped;
// store failures are retried by the broker.
func (p *Payments) Consume(ctx context.Context, body []byte) error {
	var evt contracts.PaymentReportedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("decode payment report: %w", err))
	}

	_, _, err := p.Handle(ctx, evt)
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrTransientStore) {
		return err
	}
	return messaging.Permanent(err)
}
