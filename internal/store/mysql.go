package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// MySQL server error numbers.
const (
	errLockWaitTimeout    = 1205
	errDeadlock           = 1213
	errDuplicateEntry     = 1062
	errCheckConstraintHit = 3819
)

type MySQLConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockWaitTimeout time.Duration
}

// DSN builds the driver connection string. The InnoDB lock wait timeout is
// set per session so a stuck row lock fails fast.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{
		"charset":                  "utf8mb4",
		"innodb_lock_wait_timeout": strconv.Itoa(lockWaitSeconds(c.LockWaitTimeout)),
	}
	return cfg.FormatDSN()
}

func lockWaitSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

type MySQLStore struct {
	db     *dbx.DB
	logger *slog.Logger
}

func NewMySQLStore(ctx context.Context, cfg MySQLConfig, logger *slog.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mysql_store")

	db, err := dbx.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	db.DB().SetMaxIdleConns(cfg.MaxIdleConns)
	db.DB().SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.DB().PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &MySQLStore{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("MySQL connection established", "addr", net.JoinHostPort(cfg.Host, cfg.Port), "database", cfg.Database)
	return s, nil
}

// Migrate creates the inventory tables when they do not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			return fmt.Errorf("failed to initialize tables: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var fnErr error
	err := s.db.TransactionalContext(ctx, nil, func(dtx *dbx.Tx) error {
		fnErr = fn(ctx, &mysqlTx{tx: dtx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func (s *MySQLStore) CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if err := ticket.Validate(); err != nil {
		return nil, err
	}

	created := *ticket
	created.Version = 1
	err := s.WithinTransaction(ctx, func(ctx context.Context, tx Tx) error {
		dtx := tx.(*mysqlTx).tx
		res, err := dtx.Insert("tickets", dbx.Params{
			"origin":             created.Origin,
			"destination":        created.Destination,
			"departure_at":       created.DepartureAt.UTC(),
			"arrival_at":         created.ArrivalAt.UTC(),
			"price":              created.Price.StringFixed(2),
			"total_capacity":     created.TotalCapacity,
			"remaining_capacity": created.RemainingCapacity,
			"company_name":       created.CompanyName,
			"version":            created.Version,
		}).WithContext(ctx).Execute()
		if err != nil {
			return classify("insert ticket", err)
		}
		if created.ID, err = res.LastInsertId(); err != nil {
			return classify("insert ticket", err)
		}

		table, cols := featureColumns(created.Features)
		cols["ticket_id"] = created.ID
		if _, err := dtx.Insert(table, cols).WithContext(ctx).Execute(); err != nil {
			return classify("insert ticket features", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func featureColumns(f models.Features) (string, dbx.Params) {
	switch {
	case f.Airplane != nil:
		return "airplane_tickets", dbx.Params{
			"flight_class":    f.Airplane.FlightClass,
			"number_of_stops": f.Airplane.NumberOfStops,
			"flight_number":   f.Airplane.FlightNumber,
		}
	case f.Bus != nil:
		return "bus_tickets", dbx.Params{"bus_type": f.Bus.BusType}
	default:
		return "train_tickets", dbx.Params{
			"number_of_stars":    f.Train.NumberOfStars,
			"closed_compartment": f.Train.ClosedCompartment,
		}
	}
}

func (s *MySQLStore) GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	return getTicket(ctx, s.db, ticketID, false)
}

func (s *MySQLStore) ListTickets(ctx context.Context, afterID int64, limit int) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.NewQuery(ticketSelect + ` WHERE t.id > {:after} ORDER BY t.id LIMIT {:limit}`).
		Bind(dbx.Params{"after": afterID, "limit": limit}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, classify("list tickets", err)
	}
	return toTickets(rows), nil
}

func (s *MySQLStore) SearchTickets(ctx context.Context, query models.SearchQuery) ([]*models.Ticket, error) {
	start, end, err := query.DayRange()
	if err != nil {
		return nil, err
	}

	sqlText := ticketSelect + ` WHERE LOWER(t.origin) = LOWER({:origin})
		AND LOWER(t.destination) = LOWER({:destination})
		AND t.departure_at >= {:start} AND t.departure_at < {:end}
		AND t.remaining_capacity > 0`
	switch query.VehicleType {
	case models.VehicleAirplane:
		sqlText += ` AND a.ticket_id IS NOT NULL`
	case models.VehicleBus:
		sqlText += ` AND b.ticket_id IS NOT NULL`
	case models.VehicleTrain:
		sqlText += ` AND tr.ticket_id IS NOT NULL`
	}
	sqlText += ` ORDER BY t.departure_at, t.id`

	var rows []ticketRow
	err = s.db.NewQuery(sqlText).
		Bind(dbx.Params{"origin": query.Origin, "destination": query.Destination, "start": start, "end": end}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, classify("search tickets", err)
	}
	return toTickets(rows), nil
}

func (s *MySQLStore) GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return getReservation(ctx, s.db, reservationID, false)
}

func (s *MySQLStore) ListUserReservations(ctx context.Context, userID string) ([]*models.Reservation, error) {
	var rows []reservationRow
	err := s.db.NewQuery(reservationSelect + ` WHERE user_id = {:user} ORDER BY reserved_at DESC, id DESC`).
		Bind(dbx.Params{"user": userID}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, classify("list user reservations", err)
	}

	out := make([]*models.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *MySQLStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.NewQuery(`SELECT id FROM reservations
		WHERE status = {:status} AND expires_at < {:now}
		ORDER BY expires_at LIMIT {:limit}`).
		Bind(dbx.Params{"status": string(models.ReservationReserved), "now": now.UTC(), "limit": limit}).
		WithContext(ctx).
		Column(&ids)
	if err != nil {
		return nil, classify("list expired reservations", err)
	}
	return ids, nil
}

func (s *MySQLStore) InventoryReport(ctx context.Context) (*models.InventoryReport, error) {
	report := &models.InventoryReport{
		ReservationsByStatus: map[models.ReservationStatus]int{},
		GeneratedAt:          time.Now().UTC(),
	}

	var counts []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}
	if err := s.db.NewQuery(`SELECT status, COUNT(*) AS cnt FROM reservations GROUP BY status`).
		WithContext(ctx).All(&counts); err != nil {
		return nil, classify("report reservations", err)
	}
	for _, c := range counts {
		report.ReservationsByStatus[models.ReservationStatus(c.Status)] = c.Count
	}

	var revenue string
	if err := s.db.NewQuery(`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments WHERE status = {:status}`).
		Bind(dbx.Params{"status": string(models.PaymentSuccessful)}).
		WithContext(ctx).Row(&report.Payments, &revenue); err != nil {
		return nil, classify("report payments", err)
	}
	gross, err := decimal.NewFromString(revenue)
	if err != nil {
		return nil, fmt.Errorf("parse revenue %q: %w", revenue, err)
	}
	report.GrossRevenue = gross

	if err := s.db.NewQuery(`SELECT COALESCE(SUM(total_capacity), 0), COALESCE(SUM(remaining_capacity), 0) FROM tickets`).
		WithContext(ctx).Row(&report.TotalCapacity, &report.RemainingCapacity); err != nil {
		return nil, classify("report capacity", err)
	}

	return report, nil
}

func (s *MySQLStore) RecordReconciliation(ctx context.Context, event *models.ReconciliationEvent) error {
	_, err := s.db.Insert("reconciliation_events", dbx.Params{
		"id":                 event.ID,
		"ticket_id":          event.TicketID,
		"target":             string(event.Target),
		"reason":             event.Reason,
		"remaining_capacity": event.RemainingCapacity,
		"version":            event.Version,
		"created_at":         event.CreatedAt.UTC(),
	}).WithContext(ctx).Execute()
	if err != nil {
		return classify("record reconciliation", err)
	}
	return nil
}

type reconciliationRow struct {
	ID                string       `db:"id"`
	TicketID          int64        `db:"ticket_id"`
	Target            string       `db:"target"`
	Reason            string       `db:"reason"`
	RemainingCapacity int          `db:"remaining_capacity"`
	Version           int64        `db:"version"`
	CreatedAt         time.Time    `db:"created_at"`
	ResolvedAt        sql.NullTime `db:"resolved_at"`
}

func (s *MySQLStore) ListPendingReconciliations(ctx context.Context, limit int) ([]*models.ReconciliationEvent, error) {
	var rows []reconciliationRow
	err := s.db.NewQuery(`SELECT id, ticket_id, target, reason, remaining_capacity, version, created_at, resolved_at
		FROM reconciliation_events WHERE resolved_at IS NULL ORDER BY created_at LIMIT {:limit}`).
		Bind(dbx.Params{"limit": limit}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, classify("list reconciliations", err)
	}

	events := make([]*models.ReconciliationEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, &models.ReconciliationEvent{
			ID:                r.ID,
			TicketID:          r.TicketID,
			Target:            models.PropagationTarget(r.Target),
			Reason:            r.Reason,
			RemainingCapacity: r.RemainingCapacity,
			Version:           r.Version,
			CreatedAt:         r.CreatedAt,
		})
	}
	return events, nil
}

func (s *MySQLStore) ResolveReconciliation(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.db.Update("reconciliation_events",
		dbx.Params{"resolved_at": at.UTC()},
		dbx.HashExp{"id": eventID},
	).WithContext(ctx).Execute()
	if err != nil {
		return classify("resolve reconciliation", err)
	}
	return nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.db.DB().PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type mysqlTx struct {
	tx *dbx.Tx
}

func (t *mysqlTx) LockTicketForUpdate(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	return getTicket(ctx, t.tx, ticketID, true)
}

func (t *mysqlTx) GetTicket(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	return getTicket(ctx, t.tx, ticketID, false)
}

func (t *mysqlTx) UpdateCapacity(ctx context.Context, ticketID int64, remaining int) (int64, error) {
	_, err := t.tx.NewQuery(`UPDATE tickets SET remaining_capacity = {:remaining}, version = version + 1 WHERE id = {:id}`).
		Bind(dbx.Params{"remaining": remaining, "id": ticketID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return 0, classify("update capacity", err)
	}

	var version int64
	if err := t.tx.NewQuery(`SELECT version FROM tickets WHERE id = {:id}`).
		Bind(dbx.Params{"id": ticketID}).
		WithContext(ctx).
		Row(&version); err != nil {
		return 0, classify("read ticket version", err)
	}
	return version, nil
}

func (t *mysqlTx) InsertReservation(ctx context.Context, r *models.Reservation) (int64, error) {
	res, err := t.tx.Insert("reservations", dbx.Params{
		"ticket_id":   r.TicketID,
		"user_id":     r.UserID,
		"status":      string(r.Status),
		"reserved_at": r.ReservationTime.UTC(),
		"expires_at":  r.ReservationExpiryTime.UTC(),
		"updated_at":  r.ReservationTime.UTC(),
	}).WithContext(ctx).Execute()
	if err != nil {
		return 0, classify("insert reservation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert reservation", err)
	}
	return id, nil
}

func (t *mysqlTx) LockReservationForUpdate(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	return getReservation(ctx, t.tx, reservationID, true)
}

func (t *mysqlTx) UpdateReservationState(ctx context.Context, reservationID int64, st models.ReservationStatus, at time.Time) error {
	_, err := t.tx.Update("reservations",
		dbx.Params{"status": string(st), "updated_at": at.UTC()},
		dbx.HashExp{"id": reservationID},
	).WithContext(ctx).Execute()
	if err != nil {
		return classify("update reservation", err)
	}
	return nil
}

func (t *mysqlTx) InsertPayment(ctx context.Context, p *models.Payment) (int64, error) {
	res, err := t.tx.Insert("payments", dbx.Params{
		"reservation_id": p.ReservationID,
		"user_id":        p.UserID,
		"method":         string(p.Method),
		"status":         string(p.Status),
		"amount":         p.Amount.StringFixed(2),
		"reference":      p.Reference,
		"paid_at":        p.PaidAt.UTC(),
	}).WithContext(ctx).Execute()
	if err != nil {
		return 0, classify("insert payment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert payment", err)
	}
	return id, nil
}

const ticketSelect = `SELECT t.id, t.origin, t.destination, t.departure_at, t.arrival_at, t.price,
	t.total_capacity, t.remaining_capacity, t.company_name, t.version,
	a.ticket_id AS airplane_id, a.flight_class, a.number_of_stops, a.flight_number,
	b.ticket_id AS bus_id, b.bus_type,
	tr.ticket_id AS train_id, tr.number_of_stars, tr.closed_compartment
	FROM tickets t
	LEFT JOIN airplane_tickets a ON a.ticket_id = t.id
	LEFT JOIN bus_tickets b ON b.ticket_id = t.id
	LEFT JOIN train_tickets tr ON tr.ticket_id = t.id`

type ticketRow struct {
	ID                int64           `db:"id"`
	Origin            string          `db:"origin"`
	Destination       string          `db:"destination"`
	DepartureAt       time.Time       `db:"departure_at"`
	ArrivalAt         time.Time       `db:"arrival_at"`
	Price             decimal.Decimal `db:"price"`
	TotalCapacity     int             `db:"total_capacity"`
	RemainingCapacity int             `db:"remaining_capacity"`
	CompanyName       string          `db:"company_name"`
	Version           int64           `db:"version"`

	AirplaneID    sql.NullInt64  `db:"airplane_id"`
	FlightClass   sql.NullString `db:"flight_class"`
	NumberOfStops sql.NullInt64  `db:"number_of_stops"`
	FlightNumber  sql.NullString `db:"flight_number"`

	BusID   sql.NullInt64  `db:"bus_id"`
	BusType sql.NullString `db:"bus_type"`

	TrainID           sql.NullInt64 `db:"train_id"`
	NumberOfStars     sql.NullInt64 `db:"number_of_stars"`
	ClosedCompartment sql.NullBool  `db:"closed_compartment"`
}

func (r ticketRow) toModel() *models.Ticket {
	t := &models.Ticket{
		ID:                r.ID,
		Origin:            r.Origin,
		Destination:       r.Destination,
		DepartureAt:       r.DepartureAt.UTC(),
		ArrivalAt:         r.ArrivalAt.UTC(),
		Price:             r.Price,
		TotalCapacity:     r.TotalCapacity,
		RemainingCapacity: r.RemainingCapacity,
		CompanyName:       r.CompanyName,
		Version:           r.Version,
	}
	switch {
	case r.AirplaneID.Valid:
		t.Features.Airplane = &models.AirplaneFeatures{
			FlightClass:   r.FlightClass.String,
			NumberOfStops: int(r.NumberOfStops.Int64),
			FlightNumber:  r.FlightNumber.String,
		}
	case r.BusID.Valid:
		t.Features.Bus = &models.BusFeatures{BusType: r.BusType.String}
	case r.TrainID.Valid:
		t.Features.Train = &models.TrainFeatures{
			NumberOfStars:     int(r.NumberOfStars.Int64),
			ClosedCompartment: r.ClosedCompartment.Bool,
		}
	}
	return t
}

func toTickets(rows []ticketRow) []*models.Ticket {
	tickets := make([]*models.Ticket, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, r.toModel())
	}
	return tickets
}

func getTicket(ctx context.Context, b dbx.Builder, ticketID int64, forUpdate bool) (*models.Ticket, error) {
	q := ticketSelect + ` WHERE t.id = {:id}`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var row ticketRow
	err := b.NewQuery(q).Bind(dbx.Params{"id": ticketID}).WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, classify("get ticket", err)
	}
	return row.toModel(), nil
}

type reservationRow struct {
	ID         int64     `db:"id"`
	TicketID   int64     `db:"ticket_id"`
	UserID     string    `db:"user_id"`
	Status     string    `db:"status"`
	ReservedAt time.Time `db:"reserved_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const reservationSelect = `SELECT id, ticket_id, user_id, status, reserved_at, expires_at, updated_at FROM reservations`

func (r reservationRow) toModel() *models.Reservation {
	return &models.Reservation{
		ID:                    r.ID,
		TicketID:              r.TicketID,
		UserID:                r.UserID,
		Status:                models.ReservationStatus(r.Status),
		ReservationTime:       r.ReservedAt.UTC(),
		ReservationExpiryTime: r.ExpiresAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

func getReservation(ctx context.Context, b dbx.Builder, reservationID int64, forUpdate bool) (*models.Reservation, error) {
	q := reservationSelect + ` WHERE id = {:id}`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var row reservationRow
	err := b.NewQuery(q).Bind(dbx.Params{"id": reservationID}).WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrReservationNotFound
	}
	if err != nil {
		return nil, classify("get reservation", err)
	}
	return row.toModel(), nil
}

// classify maps driver errors onto the store error taxonomy. Server errors
// other than constraint violations abort the transaction and are reported as
// retryable.
func classify(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errCheckConstraintHit:
			return fmt.Errorf("%s: %w: %v", op, status.ErrCapacityOverflow, err)
		case errDuplicateEntry:
			return fmt.Errorf("%s: %w: %v", op, status.ErrInvalidStateTransition, err)
		}
		return fmt.Errorf("%s: %w: %v", op, status.ErrStoreUnavailable, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.As(err, &netErr):
		return fmt.Errorf("%s: %w: %v", op, status.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
