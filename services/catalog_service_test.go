package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/cache"
	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

func TestTicketDetail_ReadThrough(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 4, "75.00", 24*time.Hour)
	ctx := context.Background()

	got, err := env.catalog.TicketDetail(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.RemainingCapacity)
	assert.True(t, env.cache.has(cache.TicketDetailKey(ticket.ID)))

	_, err = env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	got, err = env.catalog.TicketDetail(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RemainingCapacity, "invalidation drops the stale entry")
	assert.True(t, got.Price.Equal(ticket.Price))
}

func TestTicketDetail_StaleCacheIsServedUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 4, "75.00", 24*time.Hour)
	ctx := context.Background()

	stale := *ticket
	stale.RemainingCapacity = 0
	_, err := env.catalog.TicketDetail(ctx, ticket.ID)
	require.NoError(t, err)
	require.NoError(t, env.cache.Set(ctx, cache.TicketDetailKey(ticket.ID), mustJSON(t, stale), time.Minute))

	got, err := env.catalog.TicketDetail(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RemainingCapacity)

	// the write path never consults the cache
	_, err = env.inventory.Reserve(ctx, ticket.ID, "user-1")
	assert.NoError(t, err)
}

func TestTicketDetail_NotFoundIsNotCached(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.catalog.TicketDetail(context.Background(), 42)
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	assert.False(t, env.cache.has(cache.TicketDetailKey(42)))
}

func TestTicketDetail_CacheErrorFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 4, "75.00", 24*time.Hour)
	env.cache.getErr = errors.New("redis: i/o timeout")

	got, err := env.catalog.TicketDetail(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
}

func TestSearch_UsesIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ticket := env.seedTicket(t, 2, "30.00", 24*time.Hour)
	_, err := env.propagator.Reindex(ctx)
	require.NoError(t, err)

	q := models.SearchQuery{Origin: "vientiane", Destination: "BOTEN", Date: ticket.DepartureDate()}
	docs, err := env.catalog.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ticket.ID, docs[0].TicketID)

	key := cache.SearchKey("vientiane", "boten", ticket.DepartureDate(), "")
	assert.True(t, env.cache.has(key))
}

func TestSearch_FallsBackToStoreWhenIndexFails(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "30.00", 24*time.Hour)
	env.seedTicket(t, 0, "30.00", 24*time.Hour)
	env.index.queryErr = errIndexDown

	docs, err := env.catalog.Search(context.Background(), models.SearchQuery{
		Origin:      "Vientiane",
		Destination: "Boten",
		Date:        ticket.DepartureDate(),
		VehicleType: models.VehicleTrain,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1, "sold out tickets are not listed")
	assert.Equal(t, ticket.ID, docs[0].TicketID)
	assert.Equal(t, 2, docs[0].RemainingCapacity)
}

func TestSearch_InvalidQuery(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.catalog.Search(context.Background(), models.SearchQuery{Origin: "Vientiane"})
	assert.Error(t, err)

	_, err = env.catalog.Search(context.Background(), models.SearchQuery{
		Origin: "Vientiane", Destination: "Boten", Date: "14/10/2026",
	})
	assert.Error(t, err)
}

func TestReport_CachedUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 3, "100.00", 5*24*time.Hour)
	ctx := context.Background()

	report, err := env.catalog.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.RemainingCapacity)
	assert.True(t, env.cache.has(cache.ReportKey))

	r, err := env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	_, err = env.inventory.Pay(ctx, r.ID, "user-1", models.PaymentCard)
	require.NoError(t, err)
	env.propagator.Wait()

	report, err = env.catalog.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RemainingCapacity)
	assert.Equal(t, 1, report.Payments)
	assert.Equal(t, "100.00", report.GrossRevenue.StringFixed(2))
	assert.Equal(t, 1, report.ReservationsByStatus[models.ReservationPaid])
}
