package notification

import (
	"context"
	"strings"
	"time"
)

type Type string

const (
	TypeOrderCreated           Type = "ORDER_CREATED"
	TypeNewOrder               Type = "NEW_ORDER"
	TypePaymentProofUploaded   Type = "PAYMENT_PROOF_UPLOADED"
	TypePaymentReminder        Type = "PAYMENT_REMINDER"
	TypePaymentDeadlineWarning Type = "PAYMENT_DEADLINE_WARNING"
	TypeOrderConfirmed         Type = "ORDER_CONFIRMED"
	TypeOrderProcessing        Type = "ORDER_PROCESSING"
	TypeOrderReady             Type = "ORDER_READY"
	TypeOrderDelayed           Type = "ORDER_DELAYED"
	TypeOrderCompleted         Type = "ORDER_COMPLETED"
	TypeOrderCancelled         Type = "ORDER_CANCELLED"
	TypeOrderCancelledAdmin    Type = "ORDER_CANCELLED_ADMIN"
	TypePaymentRefunded        Type = "PAYMENT_REFUNDED"
	TypePickupReminderH1       Type = "PICKUP_REMINDER_H1"
	TypePickupReminderToday    Type = "PICKUP_REMINDER_TODAY"
	TypePickupTodaySummary     Type = "PICKUP_TODAY_SUMMARY"
	TypeOperationalException   Type = "OPERATIONAL_EXCEPTION"
)

type Record struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        Type           `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	OrderID     string         `json:"order_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	IsRead      bool           `json:"is_read"`
	DedupKey    string         `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Message is what callers hand to the dispatcher; it becomes one Record per
// recipient.
type Message struct {
	Type        Type
	RecipientID string
	Title       string
	Body        string
	OrderID     string
	Payload     map[string]any
}

// LedgerKey identifies a notification that must exist at most once. Day is
// empty for once-per-order-lifetime notifications and a calendar day
// (YYYY-MM-DD) for once-per-day ones.
type LedgerKey struct {
	RecipientID string
	Type        Type
	OrderID     string
	Day         string
}

func (k LedgerKey) String() string {
	parts := []string{string(k.Type), k.OrderID, k.RecipientID}
	if k.Day != "" {
		parts = append(parts, k.Day)
	}
	return strings.Join(parts, ":")
}

func KeyFor(m Message, day string) LedgerKey {
	return LedgerKey{RecipientID: m.RecipientID, Type: m.Type, OrderID: m.OrderID, Day: day}
}

func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

type Store interface {
	// InsertNotification persists r. With a dedup key it returns false, and
	// writes nothing, when a record with the same key already exists.
	InsertNotification(ctx context.Context, r Record) (bool, error)
	NotificationExists(ctx context.Context, dedupKey string) (bool, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]Record, int, error)
	MarkNotificationRead(ctx context.Context, recipientID, id string) error
	AdminUserIDs(ctx context.Context) ([]string, error)
}
