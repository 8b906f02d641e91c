package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

// ChangePropagator receives every committed ticket state. Implementations must
// not block the caller on secondary stores.
type ChangePropagator interface {
	TicketChanged(ctx context.Context, ticket *models.Ticket)
}

type InventoryConfig struct {
	HoldDuration     time.Duration
	OperationTimeout time.Duration
	SweepBatchSize   int
	Now              func() time.Time
}

// InventoryService is the only writer of ticket capacity and reservation
// state. Each operation runs as one transaction in the store; secondary
// stores are updated after commit through the propagator.
type InventoryService struct {
	store      store.Store
	propagator ChangePropagator
	monitor    *monitoring.Monitor
	cfg        InventoryConfig
	logger     *slog.Logger
}

func NewInventoryService(st store.Store, propagator ChangePropagator, monitor *monitoring.Monitor, cfg InventoryConfig, logger *slog.Logger) *InventoryService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = 10 * time.Minute
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &InventoryService{
		store:      st,
		propagator: propagator,
		monitor:    monitor,
		cfg:        cfg,
		logger:     logger.With("component", "inventory"),
	}
}

// CreateTicket stores a new ticket and publishes it to the secondary stores.
func (s *InventoryService) CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	created, err := s.store.CreateTicket(ctx, ticket)
	s.track("create_ticket", err, start)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket created", "ticket_id", created.ID, "capacity", created.TotalCapacity)
	s.propagator.TicketChanged(ctx, created)
	return created, nil
}

// Reserve takes one capacity unit of the ticket and creates a hold that expires
// after the configured hold duration.
func (s *InventoryService) Reserve(ctx context.Context, ticketID int64, userID string) (*models.Reservation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		reservation *models.Reservation
		changed     *models.Ticket
	)
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		ticket, err := tx.LockTicketForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if ticket.RemainingCapacity <= 0 {
			return status.ErrSoldOut
		}

		version, err := tx.UpdateCapacity(ctx, ticket.ID, ticket.RemainingCapacity-1)
		if err != nil {
			return err
		}
		ticket.RemainingCapacity--
		ticket.Version = version

		now := s.cfg.Now()
		r := &models.Reservation{
			TicketID:              ticket.ID,
			UserID:                userID,
			Status:                models.ReservationReserved,
			ReservationTime:       now,
			ReservationExpiryTime: now.Add(s.cfg.HoldDuration),
			UpdatedAt:             now,
		}
		if r.ID, err = tx.InsertReservation(ctx, r); err != nil {
			return err
		}

		reservation, changed = r, ticket
		return nil
	})
	s.track("reserve", err, start)
	if err != nil {
		s.logFailure("reserve", err, "ticket_id", ticketID, "user_id", userID)
		return nil, err
	}

	s.logger.Info("ticket reserved",
		"ticket_id", ticketID,
		"reservation_id", reservation.ID,
		"user_id", userID,
		"remaining_capacity", changed.RemainingCapacity,
	)
	s.propagator.TicketChanged(ctx, changed)
	return reservation, nil
}

// Pay confirms a hold owned by userID. Holds that are not found, not owned,
// not Reserved or already expired all fail with ErrReservationInvalid. An
// expired hold is moved to Expired and its capacity released in the same
// transaction.
func (s *InventoryService) Pay(ctx context.Context, reservationID int64, userID string, method models.PaymentMethod) (*models.Payment, error) {
	start := time.Now()
	if !method.Valid() {
		s.track("pay", status.ErrInvalidPaymentMethod, start)
		return nil, fmt.Errorf("%w: %q", status.ErrInvalidPaymentMethod, method)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		payment  *models.Payment
		released *models.Ticket
	)
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.LockReservationForUpdate(ctx, reservationID)
		if errors.Is(err, status.ErrReservationNotFound) {
			return fmt.Errorf("%w: reservation %d not found", status.ErrReservationInvalid, reservationID)
		}
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return fmt.Errorf("%w: reservation %d belongs to another user", status.ErrReservationInvalid, reservationID)
		}
		if r.Status != models.ReservationReserved {
			return fmt.Errorf("%w: reservation %d is %s", status.ErrReservationInvalid, reservationID, r.Status)
		}

		now := s.cfg.Now()
		if r.IsExpired(now) {
			released, err = s.releaseHold(ctx, tx, r, now)
			return err
		}

		ticket, err := tx.GetTicket(ctx, r.TicketID)
		if err != nil {
			return err
		}
		if err := Transition(r, models.ReservationPaid, now); err != nil {
			return err
		}
		if err := tx.UpdateReservationState(ctx, r.ID, r.Status, now); err != nil {
			return err
		}

		reference, err := utils.GenerateCode(8)
		if err != nil {
			return fmt.Errorf("generate payment reference: %w", err)
		}
		p := &models.Payment{
			ReservationID: r.ID,
			UserID:        userID,
			Method:        method,
			Status:        models.PaymentSuccessful,
			Amount:        ticket.Price,
			Reference:     reference,
			PaidAt:        now,
		}
		if p.ID, err = tx.InsertPayment(ctx, p); err != nil {
			return err
		}

		payment = p
		return nil
	})

	if err == nil && released != nil {
		// expiry committed; the caller still gets a rejection
		s.propagator.TicketChanged(ctx, released)
		s.monitor.TrackReclaimed(1)
		err = fmt.Errorf("%w: reservation %d expired", status.ErrReservationInvalid, reservationID)
	}
	s.track("pay", err, start)
	if err != nil {
		s.logFailure("pay", err, "reservation_id", reservationID, "user_id", userID)
		return nil, err
	}

	s.logger.Info("reservation paid",
		"reservation_id", reservationID,
		"payment_id", payment.ID,
		"method", method,
		"amount", payment.Amount.StringFixed(2),
	)
	return payment, nil
}

// Cancel cancels a paid reservation owned by userID, returns its capacity unit
// and prices the cancellation from the ticket row locked in the same
// transaction.
func (s *InventoryService) Cancel(ctx context.Context, reservationID int64, userID string) (*models.CancellationResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		result  *models.CancellationResult
		changed *models.Ticket
	)
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.LockReservationForUpdate(ctx, reservationID)
		if errors.Is(err, status.ErrReservationNotFound) {
			return fmt.Errorf("%w: reservation %d not found", status.ErrReservationNotCancellable, reservationID)
		}
		if err != nil {
			return err
		}
		if r.UserID != userID {
			return fmt.Errorf("%w: reservation %d belongs to another user", status.ErrReservationNotCancellable, reservationID)
		}
		if r.Status != models.ReservationPaid {
			return fmt.Errorf("%w: reservation %d is %s", status.ErrReservationNotCancellable, reservationID, r.Status)
		}

		ticket, err := tx.LockTicketForUpdate(ctx, r.TicketID)
		if err != nil {
			return err
		}
		if ticket.RemainingCapacity+1 > ticket.TotalCapacity {
			return fmt.Errorf("%w: ticket %d", status.ErrCapacityOverflow, ticket.ID)
		}
		version, err := tx.UpdateCapacity(ctx, ticket.ID, ticket.RemainingCapacity+1)
		if err != nil {
			return err
		}
		ticket.RemainingCapacity++
		ticket.Version = version

		now := s.cfg.Now()
		if err := Transition(r, models.ReservationCancelled, now); err != nil {
			return err
		}
		if err := tx.UpdateReservationState(ctx, r.ID, r.Status, now); err != nil {
			return err
		}

		result = &models.CancellationResult{
			ReservationID: r.ID,
			TicketID:      ticket.ID,
			Penalty:       CalculatePenalty(ticket.Price, ticket.DepartureAt.Sub(now)),
		}
		changed = ticket
		return nil
	})
	s.track("cancel", err, start)
	if err != nil {
		s.logFailure("cancel", err, "reservation_id", reservationID, "user_id", userID)
		return nil, err
	}

	s.logger.Info("reservation cancelled",
		"reservation_id", reservationID,
		"ticket_id", changed.ID,
		"penalty_percent", result.Penalty.PenaltyPercent,
		"refund", result.Penalty.RefundAmount.StringFixed(2),
	)
	s.propagator.TicketChanged(ctx, changed)
	return result, nil
}

// PenaltyQuote prices a cancellation of the ticket at the current time.
func (s *InventoryService) PenaltyQuote(ctx context.Context, ticketID int64) (*models.PenaltyQuote, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	ticket, err := s.store.GetTicket(ctx, ticketID)
	s.track("penalty_quote", err, start)
	if err != nil {
		return nil, err
	}

	quote := CalculatePenalty(ticket.Price, ticket.DepartureAt.Sub(s.cfg.Now()))
	return &quote, nil
}

// ListReservations returns the user's reservations, newest first. Holds past
// their expiry that the sweeper has not reclaimed yet are reported as Expired.
func (s *InventoryService) ListReservations(ctx context.Context, userID string) ([]*models.Reservation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	reservations, err := s.store.ListUserReservations(ctx, userID)
	s.track("list_reservations", err, start)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	for _, r := range reservations {
		if r.Status == models.ReservationReserved && r.IsExpired(now) {
			r.Status = models.ReservationExpired
		}
	}
	return reservations, nil
}

// ReclaimExpired expires one batch of overdue holds, one transaction per
// reservation, and returns how many capacity units were released. It is safe
// to run repeatedly and concurrently with user traffic.
func (s *InventoryService) ReclaimExpired(ctx context.Context) (int, error) {
	start := time.Now()
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	ids, err := s.store.ListExpiredReservations(listCtx, s.cfg.Now(), s.cfg.SweepBatchSize)
	cancel()
	if err != nil {
		s.track("reclaim", err, start)
		return 0, err
	}

	reclaimed := 0
	var errs []error
	for _, id := range ids {
		ok, err := s.reclaimOne(ctx, id)
		if err != nil {
			s.logger.Warn("failed to reclaim expired reservation", "reservation_id", id, "error", err)
			errs = append(errs, fmt.Errorf("reservation %d: %w", id, err))
			continue
		}
		if ok {
			reclaimed++
		}
	}

	err = errors.Join(errs...)
	s.track("reclaim", err, start)
	s.monitor.TrackReclaimed(reclaimed)
	if reclaimed > 0 {
		s.logger.Info("expired reservations reclaimed", "count", reclaimed, "candidates", len(ids))
	}
	return reclaimed, err
}

func (s *InventoryService) reclaimOne(ctx context.Context, reservationID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var released *models.Ticket
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.LockReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		now := s.cfg.Now()
		// paid, cancelled, already expired by a concurrent Pay, or extended
		if r.Status != models.ReservationReserved || !r.IsExpired(now) {
			return nil
		}
		released, err = s.releaseHold(ctx, tx, r, now)
		return err
	})
	if err != nil || released == nil {
		return false, err
	}

	s.propagator.TicketChanged(ctx, released)
	return true, nil
}

// releaseHold moves a locked, overdue hold to Expired and returns its
// capacity unit. The reservation row must already be locked by tx.
func (s *InventoryService) releaseHold(ctx context.Context, tx store.Tx, r *models.Reservation, now time.Time) (*models.Ticket, error) {
	if err := Transition(r, models.ReservationExpired, now); err != nil {
		return nil, err
	}

	ticket, err := tx.LockTicketForUpdate(ctx, r.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.RemainingCapacity+1 > ticket.TotalCapacity {
		return nil, fmt.Errorf("%w: ticket %d", status.ErrCapacityOverflow, ticket.ID)
	}
	version, err := tx.UpdateCapacity(ctx, ticket.ID, ticket.RemainingCapacity+1)
	if err != nil {
		return nil, err
	}
	ticket.RemainingCapacity++
	ticket.Version = version

	if err := tx.UpdateReservationState(ctx, r.ID, r.Status, now); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *InventoryService) track(operation string, err error, start time.Time) {
	s.monitor.TrackOperation(operation, status.Code(err), time.Since(start))
}

// logFailure keeps user-facing rejections at info and everything else at
// error.
func (s *InventoryService) logFailure(operation string, err error, args ...any) {
	args = append(args, "operation", operation, "outcome", status.Code(err), "error", err)
	switch {
	case errors.Is(err, status.ErrSoldOut),
		errors.Is(err, status.ErrTicketNotFound),
		errors.Is(err, status.ErrReservationInvalid),
		errors.Is(err, status.ErrReservationNotCancellable),
		errors.Is(err, status.ErrInvalidPaymentMethod):
		s.logger.Info("operation rejected", args...)
	case status.IsRetryable(err):
		s.logger.Warn("operation failed, retryable", args...)
	default:
		s.logger.Error("operation failed", args...)
	}
}
