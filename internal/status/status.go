package status

import (
	"context"
	"errors"
)

var (
	ErrTicketNotFound            = errors.New("ticket: ticket not found")
	ErrSoldOut                   = errors.New("ticket: sold out")
	ErrCapacityOverflow          = errors.New("ticket: remaining capacity would exceed total capacity")
	ErrReservationNotFound       = errors.New("reservation: reservation not found")
	ErrReservationInvalid        = errors.New("reservation: reservation is not payable")
	ErrReservationNotCancellable = errors.New("reservation: reservation is not cancellable")
	ErrInvalidStateTransition    = errors.New("reservation: invalid state transition")
	ErrInvalidPaymentMethod      = errors.New("payment: invalid payment method")
	ErrStoreUnavailable          = errors.New("store: store unavailable")
	ErrSecondaryPropagation      = errors.New("propagation: secondary store propagation failed")
	ErrCacheMiss                 = errors.New("cache: cache miss")
	ErrCircuitOpen               = errors.New("circuit breaker: circuit breaker is open")
)

// Code maps an error to a stable outcome label.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTicketNotFound):
		return "ticket_not_found"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrCapacityOverflow):
		return "capacity_overflow"
	case errors.Is(err, ErrReservationNotFound):
		return "reservation_not_found"
	case errors.Is(err, ErrReservationInvalid):
		return "reservation_invalid"
	case errors.Is(err, ErrReservationNotCancellable):
		return "reservation_not_cancellable"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrInvalidPaymentMethod):
		return "invalid_payment_method"
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "store_unavailable"
	case errors.Is(err, ErrSecondaryPropagation):
		return "propagation_failed"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	}
	return "internal_error"
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
