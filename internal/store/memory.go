package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// MemoryStore is an in-process Store with real row-lock semantics: each ticket
// and reservation row has its own exclusive lock, lock waits honor the
// context deadline, and staged writes become visible only on commit.
type MemoryStore struct {
	mu sync.Mutex

	tickets      map[int64]*models.Ticket
	reservations map[int64]*models.Reservation
	payments     map[int64]*models.Payment // by reservation id
	events       map[string]*models.ReconciliationEvent

	ticketLocks      map[int64]chan struct{}
	reservationLocks map[int64]chan struct{}

	nextTicketID      int64
	nextReservationID int64
	nextPaymentID     int64

	// CommitHook, when set, runs before a transaction is applied. A non-nil
	// error aborts the commit.
	CommitHook func() error

	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:          make(map[int64]*models.Ticket),
		reservations:     make(map[int64]*models.Reservation),
		payments:         make(map[int64]*models.Payment),
		events:           make(map[string]*models.ReconciliationEvent),
		ticketLocks:      make(map[int64]chan struct{}),
		reservationLocks: make(map[int64]chan struct{}),
	}
}

var errTxDone = errors.New("store: transaction already finished")

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx := &memoryTx{
		s:            s,
		ticketLocks:  make(map[int64]chan struct{}),
		resLocks:     make(map[int64]chan struct{}),
		tickets:      make(map[int64]*models.Ticket),
		reservations: make(map[int64]*models.Reservation),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w: %v", status.ErrStoreUnavailable, err)
	}
	return tx.commit()
}

func (s *MemoryStore) CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if err := ticket.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTicketID++
	created := copyTicket(ticket)
	created.ID = s.nextTicketID
	created.Version = 1
	created.DepartureAt = created.DepartureAt.UTC()
	created.ArrivalAt = created.ArrivalAt.UTC()
	s.tickets[created.ID] = created
	return copyTicket(created), nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	return copyTicket(t), nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, afterID int64, limit int) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.tickets))
	for id := range s.tickets {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*models.Ticket, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyTicket(s.tickets[id]))
	}
	return out, nil
}

func (s *MemoryStore) SearchTickets(ctx context.Context, query models.SearchQuery) ([]*models.Ticket, error) {
	if _, _, err := query.DayRange(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range s.tickets {
		if query.Matches(models.NewSearchDocument(*t)) {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DepartureAt.Before(out[j].DepartureAt)
	})
	return out, nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, status.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListUserReservations(ctx context.Context, userID string) ([]*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Reservation, 0)
	for _, r := range s.reservations {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservationTime.Equal(out[j].ReservationTime) {
			return out[i].ReservationTime.After(out[j].ReservationTime)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.ReservationReserved && r.ReservationExpiryTime.Before(now) {
			expired = append(expired, r)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ReservationExpiryTime.Before(expired[j].ReservationExpiryTime)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]int64, 0, len(expired))
	for _, r := range expired {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *MemoryStore) InventoryReport(ctx context.Context) (*models.InventoryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &models.InventoryReport{
		ReservationsByStatus: map[models.ReservationStatus]int{},
		GrossRevenue:         decimal.Zero,
		GeneratedAt:          time.Now().UTC(),
	}
	for _, r := range s.reservations {
		report.ReservationsByStatus[r.Status]++
	}
	for _, p := range s.payments {
		if p.Status == models.PaymentSuccessful {
			report.Payments++
			report.GrossRevenue = report.GrossRevenue.Add(p.Amount)
		}
	}
	for _, t := range s.tickets {
		report.TotalCapacity += t.TotalCapacity
		report.RemainingCapacity += t.RemainingCapacity
	}
	return report, nil
}

// Payment returns the payment recorded for a reservation.
func (s *MemoryStore) Payment(reservationID int64) (*models.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reservationID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (s *MemoryStore) RecordReconciliation(ctx context.Context, event *models.ReconciliationEvent) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPendingReconciliations(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ReconciliationEvent
	for _, e := range s.events {
		if e.ResolvedAt == nil {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ResolveReconciliation(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("reconciliation event %s not found", eventID)
	}
	resolved := at.UTC()
	e.ResolvedAt = &resolved
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.checkOpen()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", status.ErrStoreUnavailable)
	}
	return nil
}

func (s *MemoryStore) rowLock(locks map[int64]chan struct{}, id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		locks[id] = ch
	}
	return ch
}

type memoryTx struct {
	s    *MemoryStore
	done bool

	ticketLocks map[int64]chan struct{}
	resLocks    map[int64]chan struct{}

	tickets         map[int64]*models.Ticket
	reservations    map[int64]*models.Reservation
	newReservations []*models.Reservation
	newPayments     []*models.Payment
}

func acquire(ctx context.Context, ch chan struct{}) error {
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: lock wait: %v", status.ErrStoreUnavailable, ctx.Err())
	}
}

func (tx *memoryTx) LockTicketForUpdate(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	if tx.done {
		return nil, errTxDone
	}
	if _, err := tx.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	if _, held := tx.ticketLocks[ticketID]; !held {
		ch := tx.s.rowLock(tx.s.ticketLocks, ticketID)
		if err := acquire(ctx, ch); err != nil {
			return nil, err
		}
		tx.ticketLocks[ticketID] = ch
	}
	return tx.GetTicket(ctx, ticketID)
}

func (tx *memoryTx) GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	if tx.done {
		return nil, errTxDone
	}
	if t, ok := tx.tickets[ticketID]; ok {
		return copyTicket(t), nil
	}
	return tx.s.GetTicket(ctx, ticketID)
}

func (tx *memoryTx) UpdateCapacity(ctx context.Context, ticketID int64, remaining int) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	if _, held := tx.ticketLocks[ticketID]; !held {
		return 0, fmt.Errorf("update capacity: ticket %d is not locked by this transaction", ticketID)
	}
	t, err := tx.GetTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if remaining < 0 || remaining > t.TotalCapacity {
		return 0, fmt.Errorf("update capacity: %w: %d not in [0, %d]", status.ErrCapacityOverflow, remaining, t.TotalCapacity)
	}
	t.RemainingCapacity = remaining
	t.Version++
	tx.tickets[ticketID] = t
	return t.Version, nil
}

func (tx *memoryTx) InsertReservation(ctx context.Context, r *models.Reservation) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	tx.s.mu.Lock()
	tx.s.nextReservationID++
	id := tx.s.nextReservationID
	tx.s.mu.Unlock()

	cp := *r
	cp.ID = id
	cp.UpdatedAt = cp.ReservationTime
	tx.newReservations = append(tx.newReservations, &cp)
	tx.reservations[id] = &cp
	return id, nil
}

func (tx *memoryTx) LockReservationForUpdate(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	if tx.done {
		return nil, errTxDone
	}
	if _, err := tx.s.GetReservation(ctx, reservationID); err != nil {
		return nil, err
	}
	if _, held := tx.resLocks[reservationID]; !held {
		ch := tx.s.rowLock(tx.s.reservationLocks, reservationID)
		if err := acquire(ctx, ch); err != nil {
			return nil, err
		}
		tx.resLocks[reservationID] = ch
	}
	if r, ok := tx.reservations[reservationID]; ok {
		cp := *r
		return &cp, nil
	}
	return tx.s.GetReservation(ctx, reservationID)
}

func (tx *memoryTx) UpdateReservationState(ctx context.Context, reservationID int64, st models.ReservationStatus, at time.Time) error {
	if tx.done {
		return errTxDone
	}
	r, staged := tx.reservations[reservationID]
	if !staged {
		if _, held := tx.resLocks[reservationID]; !held {
			return fmt.Errorf("update reservation: reservation %d is not locked by this transaction", reservationID)
		}
		current, err := tx.s.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		r = current
		tx.reservations[reservationID] = r
	}
	r.Status = st
	r.UpdatedAt = at
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p *models.Payment) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	if _, exists := tx.s.Payment(p.ReservationID); exists {
		return 0, fmt.Errorf("insert payment: %w: reservation %d already paid", status.ErrInvalidStateTransition, p.ReservationID)
	}
	for _, staged := range tx.newPayments {
		if staged.ReservationID == p.ReservationID {
			return 0, fmt.Errorf("insert payment: %w: reservation %d already paid", status.ErrInvalidStateTransition, p.ReservationID)
		}
	}

	tx.s.mu.Lock()
	tx.s.nextPaymentID++
	id := tx.s.nextPaymentID
	tx.s.mu.Unlock()

	cp := *p
	cp.ID = id
	tx.newPayments = append(tx.newPayments, &cp)
	return id, nil
}

func (tx *memoryTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx.done = true
	if s.CommitHook != nil {
		if err := s.CommitHook(); err != nil {
			return fmt.Errorf("commit transaction: %w: %v", status.ErrStoreUnavailable, err)
		}
	}

	for _, t := range tx.tickets {
		if t.RemainingCapacity < 0 || t.RemainingCapacity > t.TotalCapacity {
			return fmt.Errorf("commit transaction: %w: ticket %d", status.ErrCapacityOverflow, t.ID)
		}
	}
	for _, p := range tx.newPayments {
		if _, exists := s.payments[p.ReservationID]; exists {
			return fmt.Errorf("commit transaction: %w: reservation %d already paid", status.ErrInvalidStateTransition, p.ReservationID)
		}
	}

	for id, t := range tx.tickets {
		s.tickets[id] = t
	}
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for _, p := range tx.newPayments {
		s.payments[p.ReservationID] = p
	}
	return nil
}

func (tx *memoryTx) release() {
	tx.done = true
	for id, ch := range tx.resLocks {
		<-ch
		delete(tx.resLocks, id)
	}
	for id, ch := range tx.ticketLocks {
		<-ch
		delete(tx.ticketLocks, id)
	}
}

func copyTicket(t *models.Ticket) *models.Ticket {
	cp := *t
	if t.Features.Airplane != nil {
		a := *t.Features.Airplane
		cp.Features.Airplane = &a
	}
	if t.Features.Bus != nil {
		b := *t.Features.Bus
		cp.Features.Bus = &b
	}
	if t.Features.Train != nil {
		tr := *t.Features.Train
		cp.Features.Train = &tr
	}
	return &cp
}
