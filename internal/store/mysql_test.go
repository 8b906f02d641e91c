package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

func TestMySQLConfig_DSN(t *testing.T) {
	dsn := MySQLConfig{
		Host:            "db",
		Port:            "3306",
		User:            "tickets",
		Password:        "secret",
		Database:        "inventory",
		LockWaitTimeout: 1500 * time.Millisecond,
	}.DSN()

	assert.Contains(t, dsn, "tickets:secret@tcp(db:3306)/inventory")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "innodb_lock_wait_timeout=2")
}

func TestLockWaitSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{time.Second + time.Nanosecond, 2},
		{1500 * time.Millisecond, 2},
		{3 * time.Second, 3},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, lockWaitSeconds(tt.in))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"lock wait timeout", &mysql.MySQLError{Number: errLockWaitTimeout}, status.ErrStoreUnavailable, true},
		{"deadlock", &mysql.MySQLError{Number: errDeadlock}, status.ErrStoreUnavailable, true},
		{"too many connections", &mysql.MySQLError{Number: 1040}, status.ErrStoreUnavailable, true},
		{"server shutdown", &mysql.MySQLError{Number: 1053}, status.ErrStoreUnavailable, true},
		{"query interrupted", &mysql.MySQLError{Number: 1317}, status.ErrStoreUnavailable, true},
		{"statement timeout", &mysql.MySQLError{Number: 3024}, status.ErrStoreUnavailable, true},
		{"lost connection", &mysql.MySQLError{Number: 2013}, status.ErrStoreUnavailable, true},
		{"check constraint", &mysql.MySQLError{Number: errCheckConstraintHit}, status.ErrCapacityOverflow, false},
		{"duplicate payment", &mysql.MySQLError{Number: errDuplicateEntry}, status.ErrInvalidStateTransition, false},
		{"wrapped driver error", fmt.Errorf("exec: %w", &mysql.MySQLError{Number: errDeadlock}), status.ErrStoreUnavailable, true},
		{"bad connection", driver.ErrBadConn, status.ErrStoreUnavailable, true},
		{"connection done", sql.ErrConnDone, status.ErrStoreUnavailable, true},
		{"invalid connection", mysql.ErrInvalidConn, status.ErrStoreUnavailable, true},
		{"deadline", context.DeadlineExceeded, status.ErrStoreUnavailable, true},
		{"canceled", context.Canceled, status.ErrStoreUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("update capacity", tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, status.IsRetryable(err))
			assert.Contains(t, err.Error(), "update capacity")
		})
	}
}

func TestClassify_UnknownErrorPassesThrough(t *testing.T) {
	cause := errors.New("scan: unsupported type")
	err := classify("get ticket", cause)

	assert.ErrorIs(t, err, cause)
	assert.False(t, status.IsRetryable(err))
	assert.Equal(t, "internal_error", status.Code(err))
}

func TestTicketRow_ToModel(t *testing.T) {
	departure := time.Date(2026, 12, 1, 9, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	base := ticketRow{
		ID:                9,
		Origin:            "Vientiane",
		Destination:       "Luang Prabang",
		DepartureAt:       departure,
		ArrivalAt:         departure.Add(2 * time.Hour),
		Price:             decimal.RequireFromString("560000.00"),
		TotalCapacity:     30,
		RemainingCapacity: 4,
		CompanyName:       "LCR",
		Version:           7,
	}

	tests := []struct {
		name string
		row  func(r ticketRow) ticketRow
		want models.Features
	}{
		{
			name: "airplane",
			row: func(r ticketRow) ticketRow {
				r.AirplaneID = sql.NullInt64{Int64: 9, Valid: true}
				r.FlightClass = sql.NullString{String: "business", Valid: true}
				r.NumberOfStops = sql.NullInt64{Int64: 1, Valid: true}
				r.FlightNumber = sql.NullString{String: "QV101", Valid: true}
				return r
			},
			want: models.Features{Airplane: &models.AirplaneFeatures{FlightClass: "business", NumberOfStops: 1, FlightNumber: "QV101"}},
		},
		{
			name: "bus",
			row: func(r ticketRow) ticketRow {
				r.BusID = sql.NullInt64{Int64: 9, Valid: true}
				r.BusType = sql.NullString{String: "sleeper", Valid: true}
				return r
			},
			want: models.Features{Bus: &models.BusFeatures{BusType: "sleeper"}},
		},
		{
			name: "train",
			row: func(r ticketRow) ticketRow {
				r.TrainID = sql.NullInt64{Int64: 9, Valid: true}
				r.NumberOfStars = sql.NullInt64{Int64: 4, Valid: true}
				r.ClosedCompartment = sql.NullBool{Bool: true, Valid: true}
				return r
			},
			want: models.Features{Train: &models.TrainFeatures{NumberOfStars: 4, ClosedCompartment: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.row(base).toModel()

			assert.Equal(t, tt.want, got.Features)
			assert.Equal(t, int64(9), got.ID)
			assert.Equal(t, int64(7), got.Version)
			assert.Equal(t, 4, got.RemainingCapacity)
			assert.True(t, got.Price.Equal(decimal.RequireFromString("560000")))
			assert.Equal(t, time.UTC, got.DepartureAt.Location())
			assert.True(t, got.DepartureAt.Equal(departure))
		})
	}
}

func TestFeatureColumns(t *testing.T) {
	table, params := featureColumns(models.Features{Airplane: &models.AirplaneFeatures{FlightClass: "economy", NumberOfStops: 0, FlightNumber: "QV2"}})
	assert.Equal(t, "airplane_tickets", table)
	assert.Equal(t, "economy", params["flight_class"])
	assert.Equal(t, 0, params["number_of_stops"])
	assert.Equal(t, "QV2", params["flight_number"])

	table, params = featureColumns(models.Features{Bus: &models.BusFeatures{BusType: "vip"}})
	assert.Equal(t, "bus_tickets", table)
	assert.Len(t, params, 1)
	assert.Equal(t, "vip", params["bus_type"])

	table, params = featureColumns(models.Features{Train: &models.TrainFeatures{NumberOfStars: 3, ClosedCompartment: true}})
	assert.Equal(t, "train_tickets", table)
	assert.Equal(t, 3, params["number_of_stars"])
	assert.Equal(t, true, params["closed_compartment"])
}

func TestReservationRow_ToModel(t *testing.T) {
	at := time.Date(2026, 11, 1, 8, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	got := reservationRow{
		ID:         5,
		TicketID:   9,
		UserID:     "alice",
		Status:     string(models.ReservationPaid),
		ReservedAt: at,
		ExpiresAt:  at.Add(10 * time.Minute),
		UpdatedAt:  at.Add(time.Minute),
	}.toModel()

	assert.Equal(t, models.ReservationPaid, got.Status)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, time.UTC, got.ReservationTime.Location())
	assert.True(t, got.ReservationExpiryTime.Equal(at.Add(10*time.Minute)))
}
