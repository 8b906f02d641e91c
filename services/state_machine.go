package services

import (
	"fmt"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

var transitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.ReservationReserved: {models.ReservationPaid, models.ReservationExpired},
	models.ReservationPaid:     {models.ReservationCancelled},
}

// CanTransition reports whether the edge from -> to exists. Cancelled and
// Expired are terminal.
func CanTransition(from, to models.ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves r to state to at now, enforcing the time guards of the
// Reserved edges: Paid only while now <= expiry, Expired only once now > expiry.
func Transition(r *models.Reservation, to models.ReservationStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", status.ErrInvalidStateTransition, r.Status, to)
	}

	switch to {
	case models.ReservationPaid:
		if r.IsExpired(now) {
			return fmt.Errorf("%w: hold expired at %s", status.ErrInvalidStateTransition, r.ReservationExpiryTime.Format(time.RFC3339))
		}
	case models.ReservationExpired:
		if !r.IsExpired(now) {
			return fmt.Errorf("%w: hold valid until %s", status.ErrInvalidStateTransition, r.ReservationExpiryTime.Format(time.RFC3339))
		}
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}
