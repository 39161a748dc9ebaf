package contracts

import "time"

const (
	EventNotificationCreated = "notifications.created"
	EventPaymentReported     = "payments.reported"
)

// NotificationCreatedEvent is written to the notification outbox together
// with the record and relayed to the notifications exchange.
type NotificationCreatedEvent struct {
	EventID        string    `json:"event_id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	OrderID        string    `json:"order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PaymentReportedEvent is a payment provider callback as it arrives over the
// wire, before status normalization.
type PaymentReportedEvent struct {
	EventID    string    `json:"event_id"`
	PaymentID  string    `json:"payment_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	ReceivedAt time.Time `json:"received_at"`
}
