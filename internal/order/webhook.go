package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
)

const ActorPaymentWebhook = "PAYMENT_WEBHOOK"

// PaymentUpdate is a provider notification reduced to the fields the engine
// understands.
type PaymentUpdate struct {
	PaymentID string
	Status    PaymentStatus
	Amount    int64
}

var providerStatuses = map[string]PaymentStatus{
	"success":    PaymentPaid,
	"succeeded":  PaymentPaid,
	"paid":       PaymentPaid,
	"settlement": PaymentPaid,
	"capture":    PaymentPaid,
	"failed":     PaymentFailed,
	"failure":    PaymentFailed,
	"deny":       PaymentFailed,
	"cancel":     PaymentFailed,
	"expire":     PaymentFailed,
	"expired":    PaymentFailed,
	"refund":     PaymentRefunded,
	"refunded":   PaymentRefunded,
	"pending":    PaymentPending,
}

// NormalizeProviderStatus maps a provider status string. Anything unknown is
// treated as PENDING so unrecognized provider states never cancel an order.
func NormalizeProviderStatus(raw string) PaymentStatus {
	if s, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return PaymentPending
}

func NormalizeWebhook(paymentID, status string, amount int64) PaymentUpdate {
	return PaymentUpdate{
		PaymentID: strings.TrimSpace(paymentID),
		Status:    NormalizeProviderStatus(status),
		Amount:    amount,
	}
}

// ApplyPaymentUpdate hands a normalized webhook to the transition engine.
// PENDING updates return the current order without touching it.
func (e *Engine) ApplyPaymentUpdate(ctx context.Context, u PaymentUpdate, actor string) (*Order, error) {
	if u.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", apperr.ErrInvalidInput)
	}
	if actor == "" {
		actor = ActorPaymentWebhook
	}

	o, err := e.store.GetOrderByPaymentID(ctx, u.PaymentID)
	if err != nil {
		return nil, apperr.Transient("get order by payment", err)
	}
	if u.Status == PaymentPending {
		return o, nil
	}
	if u.Status == PaymentPaid && u.Amount > 0 && u.Amount != o.Payment.Amount {
		return nil, fmt.Errorf("%w: got %d, expected %d", apperr.ErrAmountMismatch, u.Amount, o.Payment.Amount)
	}

	return e.Transition(ctx, Request{
		OrderID:       o.ID,
		PaymentStatus: u.Status,
		Actor:         actor,
		Reason:        "payment provider reported " + strings.ToLower(string(u.Status)),
	})
}
