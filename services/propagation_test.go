package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/cache"
	"ticket-inventory/internal/notify"
	"ticket-inventory/models"
	"ticket-inventory/utils"
)

func TestPropagation_IndexFollowsCommittedState(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	ctx := context.Background()

	r, err := env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	doc, ok := env.index.doc(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, 1, doc.RemainingCapacity)

	_, err = env.inventory.Pay(ctx, r.ID, "user-1", models.PaymentCard)
	require.NoError(t, err)
	_, err = env.inventory.Cancel(ctx, r.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	doc, _ = env.index.doc(ticket.ID)
	assert.Equal(t, 2, doc.RemainingCapacity)
	assert.Equal(t, int64(3), doc.Version)

	assert.NotEmpty(t, env.publisher.on(notify.TicketChannel(ticket.ID)))
}

func TestPropagation_InvalidatesTicketKeys(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	ctx := context.Background()

	keys := append(cache.TicketKeys(ticket), cache.ReportKey)
	for _, k := range keys {
		require.NoError(t, env.cache.Set(ctx, k, []byte(`{}`), time.Minute))
	}
	require.NoError(t, env.cache.Set(ctx, "ticket:detail:999", []byte(`{}`), time.Minute))

	_, err := env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	for _, k := range keys {
		assert.False(t, env.cache.has(k), k)
	}
	assert.True(t, env.cache.has("ticket:detail:999"), "unrelated keys survive")
}

func TestPropagation_TransientFailureRecovers(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	env.index.setFailures(2)

	_, err := env.inventory.Reserve(context.Background(), ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	assert.Equal(t, 3, env.index.upsertCount())
	doc, ok := env.index.doc(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, 1, doc.RemainingCapacity)

	pending, err := env.store.ListPendingReconciliations(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPropagation_ExhaustedRetriesRecordReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	env.index.setFailures(-1)

	r, err := env.inventory.Reserve(context.Background(), ticket.ID, "user-1")
	require.NoError(t, err, "secondary failures never reach the caller")
	require.NotNil(t, r)
	env.propagator.Wait()

	assert.Equal(t, 3, env.index.upsertCount())
	assert.Equal(t, 1, env.remaining(t, ticket.ID))

	pending, err := env.store.ListPendingReconciliations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	event := pending[0]
	assert.Equal(t, ticket.ID, event.TicketID)
	assert.Equal(t, models.TargetSearchIndex, event.Target)
	assert.Equal(t, 1, event.RemainingCapacity)
	assert.Equal(t, int64(2), event.Version)
	assert.Contains(t, event.Reason, errIndexDown.Error())

	alerts := env.publisher.on(notify.ReconciliationChannel)
	require.Len(t, alerts, 1)
	assert.Equal(t, event.ID, alerts[0].(*models.ReconciliationEvent).ID)
}

func TestPropagation_CacheFailureRecordsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	env.cache.deleteErr = errors.New("redis: connection refused")

	_, err := env.inventory.Reserve(context.Background(), ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	assert.Equal(t, 3, env.cache.deletes)
	pending, err := env.store.ListPendingReconciliations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.TargetCache, pending[0].Target)

	_, ok := env.index.doc(ticket.ID)
	assert.True(t, ok, "index is updated independently of the cache")
}

func TestPropagation_OpenBreakerStillReconciled(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 2, "100.00", 3*24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_ = env.breaker.Execute(ctx, func(context.Context) error { return errIndexDown })
	}
	require.Equal(t, utils.StateOpen, env.breaker.State())

	_, err := env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	env.propagator.Wait()

	assert.Equal(t, 0, env.index.upsertCount(), "open breaker short-circuits the index")
	pending, err := env.store.ListPendingReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Reason, utils.ErrCircuitOpen.Error())
}

func TestReconcile_RepairsFromStoreAndResolves(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 3, "100.00", 3*24*time.Hour)
	ctx := context.Background()
	env.index.setFailures(-1)

	for _, user := range []string{"user-1", "user-2"} {
		_, err := env.inventory.Reserve(ctx, ticket.ID, user)
		require.NoError(t, err)
	}
	env.propagator.Wait()

	pending, err := env.store.ListPendingReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	n, err := env.propagator.Reconcile(ctx)
	assert.Error(t, err, "index still down")
	assert.Equal(t, 0, n)

	env.index.setFailures(0)
	before := env.index.upsertCount()

	n, err = env.propagator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before+1, env.index.upsertCount(), "one repair per ticket and target")

	doc, ok := env.index.doc(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, 1, doc.RemainingCapacity)
	assert.Equal(t, int64(3), doc.Version)

	pending, err = env.store.ListPendingReconciliations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = env.propagator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReindex_RebuildsEveryTicket(t *testing.T) {
	env := newTestEnv(t)
	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, env.seedTicket(t, 5, "20.00", time.Duration(i+1)*24*time.Hour).ID)
	}

	n, err := env.propagator.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		doc, ok := env.index.doc(id)
		require.True(t, ok)
		assert.Equal(t, 5, doc.RemainingCapacity)
		assert.Equal(t, models.VehicleTrain, doc.VehicleType)
	}
}

func TestReindex_StopsOnIndexFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket(t, 5, "20.00", 24*time.Hour)
	env.index.setFailures(-1)

	n, err := env.propagator.Reindex(context.Background())
	assert.ErrorIs(t, err, errIndexDown)
	assert.Equal(t, 0, n)
}
