package order

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PickupStatus string

const (
	PickupNotPickedUp PickupStatus = "NOT_PICKED_UP"
	PickupPickedUp    PickupStatus = "PICKED_UP"
)

const (
	MethodBankTransfer = "BANK_TRANSFER"

	// ActorSystem is the actor id recorded for scheduler driven actions.
	ActorSystem = "SYSTEM"
)

type Payment struct {
	ID        string        `json:"id"`
	Status    PaymentStatus `json:"status"`
	Method    string        `json:"method"`
	ProofURL  string        `json:"proof_url,omitempty"`
	Amount    int64         `json:"amount"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Order struct {
	ID             string       `json:"id"`
	OrderNumber    string       `json:"order_number"`
	UserID         string       `json:"user_id"`
	SubtotalAmount int64        `json:"subtotal_amount"`
	ServiceFee     int64        `json:"service_fee"`
	TotalAmount    int64        `json:"total_amount"`
	Status         Status       `json:"order_status"`
	PickupDate     *time.Time   `json:"pickup_date,omitempty"`
	PickupStatus   PickupStatus `json:"pickup_status"`
	Notes          string       `json:"notes,omitempty"`
	Payment        Payment      `json:"payment"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Age is the time elapsed since the order was placed.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

func (o *Order) Clone() Order {
	c := *o
	if o.PickupDate != nil {
		d := *o.PickupDate
		c.PickupDate = &d
	}
	return c
}
