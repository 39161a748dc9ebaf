package order

import (
	"context"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
)

// AgeWindow selects orders by time since creation: Min <= age < Max.
// A zero Max leaves the window open-ended.
type AgeWindow struct {
	Min time.Duration
	Max time.Duration
}

func (w AgeWindow) Contains(age time.Duration) bool {
	if age < w.Min {
		return false
	}
	return w.Max == 0 || age < w.Max
}

// CreatedBounds converts the window to creation-time bounds relative to now:
// createdAt <= notAfter and, when bounded, createdAt > after.
func (w AgeWindow) CreatedBounds(now time.Time) (notAfter time.Time, after *time.Time) {
	notAfter = now.Add(-w.Min)
	if w.Max > 0 {
		a := now.Add(-w.Max)
		after = &a
	}
	return notAfter, after
}

// MutateFunc edits a locked order in place and returns the audit entries to
// persist with it. Returning no entries leaves the stored order untouched.
type MutateFunc func(o *Order) ([]audit.Entry, error)

type Store interface {
	CreateOrder(ctx context.Context, o *Order, entry audit.Entry) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	FindOrdersByPaymentAge(ctx context.Context, status PaymentStatus, window AgeWindow, now time.Time, limit int) ([]Order, error)
	// FindOrdersByPickupDate returns orders not yet picked up whose pickup date
	// falls in [from, to) and whose status is one of statuses.
	FindOrdersByPickupDate(ctx context.Context, from, to time.Time, statuses []Status, limit int) ([]Order, error)
	// ApplyTransition locks the order, runs mutate and persists the order, its
	// payment and the returned audit entries in one transaction.
	ApplyTransition(ctx context.Context, orderID string, mutate MutateFunc) (*Order, error)
}
