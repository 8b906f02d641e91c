package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/models"
)

type countingReclaimer struct {
	calls atomic.Int32
	err   error
}

func (c *countingReclaimer) ReclaimExpired(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

type countingReconciler struct {
	calls atomic.Int32
}

func (c *countingReconciler) Reconcile(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestSweeper_RunsBothLoopsUntilStopped(t *testing.T) {
	reclaimer := &countingReclaimer{}
	reconciler := &countingReconciler{}
	s := NewSweeper(reclaimer, reconciler, 5*time.Millisecond, 5*time.Millisecond, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return reclaimer.calls.Load() >= 2 && reconciler.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	after := reclaimer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, reclaimer.calls.Load(), "no passes after Stop")

	s.Stop()
}

func TestSweeper_StopsWithContext(t *testing.T) {
	reclaimer := &countingReclaimer{err: errors.New("store down")}
	s := NewSweeper(reclaimer, nil, 5*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return reclaimer.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}

func TestSweeper_ReclaimsHoldsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedTicket(t, 1, "10.00", 10*24*time.Hour)
	ctx := context.Background()

	r, err := env.inventory.Reserve(ctx, ticket.ID, "user-1")
	require.NoError(t, err)
	env.clock.Advance(11 * time.Minute)

	s := NewSweeper(env.inventory, env.propagator, time.Hour, time.Hour, nil)
	assert.Equal(t, 1, s.Sweep(ctx))
	assert.Equal(t, 0, s.Sweep(ctx))
	assert.Equal(t, models.ReservationExpired, env.reservationStatus(t, r.ID))
	assert.Equal(t, 1, env.remaining(t, ticket.ID))

	env.propagator.Wait()
	assert.Equal(t, 0, s.ReconcileOnce(ctx))
}
