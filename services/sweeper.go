package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Reclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Sweeper periodically reclaims expired holds and repairs secondary stores.
type Sweeper struct {
	reclaimer         Reclaimer
	reconciler        Reconciler
	sweepInterval     time.Duration
	reconcileInterval time.Duration
	logger            *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(reclaimer Reclaimer, reconciler Reconciler, sweepInterval, reconcileInterval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		reclaimer:         reclaimer,
		reconciler:        reconciler,
		sweepInterval:     sweepInterval,
		reconcileInterval: reconcileInterval,
		logger:            logger.With("component", "sweeper"),
		stopChan:          make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("sweeper started", "sweep_interval", s.sweepInterval, "reconcile_interval", s.reconcileInterval)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()

	var reconcileC <-chan time.Time
	if s.reconciler != nil && s.reconcileInterval > 0 {
		reconcile := time.NewTicker(s.reconcileInterval)
		defer reconcile.Stop()
		reconcileC = reconcile.C
	}

	for {
		select {
		case <-sweep.C:
			s.Sweep(ctx)
		case <-reconcileC:
			s.ReconcileOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.reclaimer.ReclaimExpired(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "reclaimed", n, "error", err)
	}
	return n
}

func (s *Sweeper) ReconcileOnce(ctx context.Context) int {
	n, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconciliation pass failed", "resolved", n, "error", err)
	}
	return n
}
