package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrIneligibleState      = errors.New("ineligible state")
	ErrNotFound             = errors.New("not found")
	ErrTransientStore       = errors.New("transient store error")
	ErrNotificationDelivery = errors.New("notification delivery failed")
	ErrAuditWrite           = errors.New("audit write failed")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
)

// NonFatalError marks a failure that was logged and counted but must not
// abort the operation that produced it.
type NonFatalError struct {
	Component string
	Op        string
	Err       error
}

func (e *NonFatalError) Error() string {
	return fmt.Sprintf("%s %s (non-fatal): %v", e.Component, e.Op, e.Err)
}

func (e *NonFatalError) Unwrap() error {
	return e.Err
}

func NonFatal(component, op string, err error) *NonFatalError {
	return &NonFatalError{Component: component, Op: op, Err: err}
}

func IsNonFatal(err error) bool {
	var nf *NonFatalError
	return errors.As(err, &nf)
}

// Transient wraps a store failure so callers can tell it apart from domain
// rejections. Errors that already carry a taxonomy sentinel pass through.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrTransientStore, ErrInvalidTransition, ErrIneligibleState, ErrInvalidInput, ErrAmountMismatch} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// Code returns the stable identifier used in structured results and HTTP bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrIneligibleState):
		return "INELIGIBLE_STATE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrAmountMismatch):
		return "AMOUNT_MISMATCH"
	case errors.Is(err, ErrNotificationDelivery):
		return "NOTIFICATION_DELIVERY"
	case errors.Is(err, ErrAuditWrite):
		return "AUDIT_WRITE"
	case errors.Is(err, ErrTransientStore):
		return "TRANSIENT_STORE"
	default:
		return "INTERNAL"
	}
}
