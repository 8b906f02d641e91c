package models

import (
	"time"
)

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "Reserved"
	ReservationPaid      ReservationStatus = "Paid"
	ReservationCancelled ReservationStatus = "Cancelled"
	ReservationExpired   ReservationStatus = "Expired"
)

type Reservation struct {
	ID                    int64             `json:"reservation_id"`
	TicketID              int64             `json:"ticket_id"`
	UserID                string            `json:"user_id"`
	Status                ReservationStatus `json:"reservation_status"`
	ReservationTime       time.Time         `json:"reservation_time"`
	ReservationExpiryTime time.Time         `json:"reservation_expiry_time"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// IsExpired reports whether the hold window has passed at now.
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ReservationExpiryTime)
}

// CancellationResult is returned to a user who cancelled a paid reservation.
type CancellationResult struct {
	ReservationID int64        `json:"reservation_id"`
	TicketID      int64        `json:"ticket_id"`
	Penalty       PenaltyQuote `json:"penalty"`
}
