package store

import (
	"context"
	"time"

	"ticket-inventory/models"
)

// Store is the transactional source of truth for tickets, reservations and
// payments. Every capacity decision is made inside WithinTransaction.
type Store interface {
	// WithinTransaction runs fn in a single transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise, including when
	// fn panics. Errors returned by fn are passed through unchanged.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error)
	ListTickets(ctx context.Context, afterID int64, limit int) ([]*models.Ticket, error)
	SearchTickets(ctx context.Context, query models.SearchQuery) ([]*models.Ticket, error)

	GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error)
	// ListUserReservations returns every reservation of the user, newest first.
	ListUserReservations(ctx context.Context, userID string) ([]*models.Reservation, error)
	// ListExpiredReservations returns ids of Reserved holds whose expiry is
	// before now, oldest first.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]int64, error)

	InventoryReport(ctx context.Context) (*models.InventoryReport, error)

	RecordReconciliation(ctx context.Context, event *models.ReconciliationEvent) error
	ListPendingReconciliations(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error)
	ResolveReconciliation(ctx context.Context, eventID string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of row-level operations available inside a transaction.
//
// Locks are taken in a fixed order: a reservation row before its ticket row.
type Tx interface {
	// LockTicketForUpdate takes the exclusive row lock of the ticket and
	// returns its current state.
	LockTicketForUpdate(ctx context.Context, ticketID int64) (*models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error)
	// UpdateCapacity sets the remaining capacity of a locked ticket and returns
	// the new version.
	UpdateCapacity(ctx context.Context, ticketID int64, remaining int) (int64, error)

	InsertReservation(ctx context.Context, reservation *models.Reservation) (int64, error)
	LockReservationForUpdate(ctx context.Context, reservationID int64) (*models.Reservation, error)
	UpdateReservationState(ctx context.Context, reservationID int64, status models.ReservationStatus, at time.Time) error

	InsertPayment(ctx context.Context, payment *models.Payment) (int64, error)
}
