package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.ReservationStatus
		want     bool
	}{
		{models.ReservationReserved, models.ReservationPaid, true},
		{models.ReservationReserved, models.ReservationExpired, true},
		{models.ReservationPaid, models.ReservationCancelled, true},
		{models.ReservationReserved, models.ReservationCancelled, false},
		{models.ReservationPaid, models.ReservationPaid, false},
		{models.ReservationPaid, models.ReservationExpired, false},
		{models.ReservationCancelled, models.ReservationPaid, false},
		{models.ReservationExpired, models.ReservationReserved, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransition_TimeGuards(t *testing.T) {
	now := time.Now()
	hold := func() *models.Reservation {
		return &models.Reservation{Status: models.ReservationReserved, ReservationExpiryTime: now}
	}

	r := hold()
	require.NoError(t, Transition(r, models.ReservationPaid, now), "paying exactly at expiry is allowed")
	assert.Equal(t, models.ReservationPaid, r.Status)

	r = hold()
	assert.ErrorIs(t, Transition(r, models.ReservationPaid, now.Add(time.Second)), status.ErrInvalidStateTransition)
	assert.Equal(t, models.ReservationReserved, r.Status)

	r = hold()
	assert.ErrorIs(t, Transition(r, models.ReservationExpired, now), status.ErrInvalidStateTransition)
	require.NoError(t, Transition(r, models.ReservationExpired, now.Add(time.Second)))
	assert.Equal(t, models.ReservationExpired, r.Status)

	assert.ErrorIs(t, Transition(r, models.ReservationPaid, now), status.ErrInvalidStateTransition)
}

func TestCalculatePenalty(t *testing.T) {
	price := decimal.NewFromInt(1000)

	q := CalculatePenalty(price, 12*time.Hour)
	assert.Equal(t, 90, q.PenaltyPercent)
	assert.Equal(t, "900.00", q.PenaltyAmount.StringFixed(2))
	assert.Equal(t, "100.00", q.RefundAmount.StringFixed(2))

	assert.Equal(t, 50, CalculatePenalty(price, 48*time.Hour).PenaltyPercent)
	assert.Equal(t, 20, CalculatePenalty(price, 10*24*time.Hour).PenaltyPercent)

	// boundaries
	assert.Equal(t, 50, CalculatePenalty(price, 24*time.Hour).PenaltyPercent)
	assert.Equal(t, 20, CalculatePenalty(price, 72*time.Hour).PenaltyPercent)
	assert.Equal(t, 90, CalculatePenalty(price, -time.Hour).PenaltyPercent)
}

func TestCalculatePenalty_Rounding(t *testing.T) {
	q := CalculatePenalty(decimal.RequireFromString("99.99"), 48*time.Hour)

	assert.Equal(t, "50.00", q.PenaltyAmount.StringFixed(2))
	assert.Equal(t, "49.99", q.RefundAmount.StringFixed(2))
	assert.True(t, q.PenaltyAmount.Add(q.RefundAmount).Equal(decimal.RequireFromString("99.99")))
}
