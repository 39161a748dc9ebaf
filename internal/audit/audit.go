package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/metrics"

	"github.com/google/uuid"
)

const (
	ActionCreateOrder         = "CREATE_ORDER"
	ActionUpdateOrderStatus   = "UPDATE_ORDER_STATUS"
	ActionUpdatePaymentStatus = "UPDATE_PAYMENT_STATUS"
	ActionUploadPaymentProof  = "UPLOAD_PAYMENT_PROOF"
	ActionMarkPickedUp        = "MARK_PICKED_UP"
	ActionOrderDelayed        = "ORDER_DELAYED"
)

const (
	ResourceOrder   = "order"
	ResourcePayment = "payment"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Entry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func NewEntry(actor, action, resource, resourceID string, details map[string]any, at time.Time) Entry {
	return Entry{
		ID:         uuid.New().String(),
		ActorID:    actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		CreatedAt:  at.UTC(),
	}
}

// Filter selects audit entries. Zero fields do not constrain the result;
// From is inclusive and To exclusive.
type Filter struct {
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether e satisfies the filter, ignoring pagination.
func (f Filter) Match(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

type Store interface {
	InsertAudit(ctx context.Context, e Entry) error
	QueryAudit(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Logger records actions that happen outside a status transaction. Status
// transitions write their entries inside the transaction itself.
type Logger struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
}

func NewLogger(store Store, logger *slog.Logger) *Logger {
	return &Logger{store: store, logger: logger, timeout: 5 * time.Second}
}

// Record never blocks the caller's operation on failure: the error is logged,
// counted and handed back as a non-fatal error.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.InsertAudit(writeCtx, e); err != nil {
		metrics.NonFatalErrorsTotal.WithLabelValues("audit").Inc()
		l.logger.Error("audit write failed",
			"action", e.Action, "resource", e.Resource, "resource_id", e.ResourceID, "err", err)
		return apperr.NonFatal("audit", e.Action, fmt.Errorf("%w: %w", apperr.ErrAuditWrite, err))
	}
	return nil
}

func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	entries, total, err := l.store.QueryAudit(ctx, f.Normalize())
	if err != nil {
		return nil, 0, apperr.Transient("query audit", err)
	}
	return entries, total, nil
}
