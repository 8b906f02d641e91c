package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticket-inventory/internal/cache"
	"ticket-inventory/internal/notify"
	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

type TicketCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type SearchIndex interface {
	Upsert(ctx context.Context, doc models.SearchDocument) (bool, error)
	Query(ctx context.Context, q models.SearchQuery) ([]models.SearchDocument, error)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type PropagatorConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	// Timeout bounds one detached propagation, retries included.
	Timeout time.Duration
	Now     func() time.Time
}

// Propagator brings the cache and the search index in line with committed
// ticket state. It runs strictly after commit, never under a row lock, and its
// failures never reach the user: an exhausted target becomes a persisted
// reconciliation event that Reconcile repairs from the store.
type Propagator struct {
	store     store.Store
	cache     TicketCache
	index     SearchIndex
	breaker   *utils.CircuitBreaker
	publisher Publisher
	monitor   *monitoring.Monitor
	cfg       PropagatorConfig
	logger    *slog.Logger

	wg sync.WaitGroup
}

func NewPropagator(st store.Store, c TicketCache, idx SearchIndex, breaker *utils.CircuitBreaker, pub Publisher, monitor *monitoring.Monitor, cfg PropagatorConfig, logger *slog.Logger) *Propagator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if pub == nil {
		pub = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Propagator{
		store:     st,
		cache:     c,
		index:     idx,
		breaker:   breaker,
		publisher: pub,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger.With("component", "propagator"),
	}
}

// TicketChanged propagates a snapshot of ticket in the background. The
// propagation outlives the caller's context.
func (p *Propagator) TicketChanged(ctx context.Context, ticket *models.Ticket) {
	snapshot := *ticket

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
		defer cancel()

		if err := p.Propagate(ctx, &snapshot); err != nil {
			p.logger.Warn("ticket propagation incomplete", "ticket_id", snapshot.ID, "version", snapshot.Version, "error", err)
		}
	}()
}

// Wait blocks until every background propagation has finished.
func (p *Propagator) Wait() {
	p.wg.Wait()
}

// Propagate updates every secondary store for ticket. The index goes first so
// a read-through racing the invalidation cannot re-cache the old state from
// the index.
func (p *Propagator) Propagate(ctx context.Context, ticket *models.Ticket) error {
	var errs []error

	if err := p.withRetry(ctx, ticket, models.TargetSearchIndex, func(ctx context.Context) error {
		return p.upsert(ctx, ticket)
	}); err != nil {
		errs = append(errs, err)
	}

	if err := p.withRetry(ctx, ticket, models.TargetCache, func(ctx context.Context) error {
		return p.invalidate(ctx, ticket)
	}); err != nil {
		errs = append(errs, err)
	}

	p.publish(ctx, notify.TicketChannel(ticket.ID), map[string]any{
		"type":               "capacity_changed",
		"ticket_id":          ticket.ID,
		"remaining_capacity": ticket.RemainingCapacity,
		"version":            ticket.Version,
	})

	return errors.Join(errs...)
}

func (p *Propagator) upsert(ctx context.Context, ticket *models.Ticket) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		applied, err := p.index.Upsert(ctx, models.NewSearchDocument(*ticket))
		if err == nil && !applied {
			p.logger.Debug("index already holds a newer version", "ticket_id", ticket.ID, "version", ticket.Version)
		}
		return err
	})
	p.monitor.SetBreakerOpen(p.breaker.Name(), p.breaker.State() == utils.StateOpen)
	return err
}

func (p *Propagator) invalidate(ctx context.Context, ticket *models.Ticket) error {
	return p.cache.Delete(ctx, append(cache.TicketKeys(ticket), cache.ReportKey)...)
}

func (p *Propagator) withRetry(ctx context.Context, ticket *models.Ticket, target models.PropagationTarget, action func(ctx context.Context) error) error {
	policy := utils.RetryPolicy{
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff,
		OnAttempt: func(attempt int, err error) {
			p.monitor.TrackPropagationAttempt(string(target), err)
			if err != nil {
				p.logger.Warn("propagation attempt failed",
					"target", target,
					"ticket_id", ticket.ID,
					"attempt", attempt,
					"error", err,
				)
			}
		},
		OnExhausted: func(ctx context.Context, err error) {
			p.recordReconciliation(ctx, ticket, target, err)
		},
	}

	if err := policy.Do(ctx, action); err != nil {
		return fmt.Errorf("%w: %s: %v", status.ErrSecondaryPropagation, target, err)
	}
	return nil
}

// recordReconciliation persists the durable manual-reconciliation signal.
func (p *Propagator) recordReconciliation(ctx context.Context, ticket *models.Ticket, target models.PropagationTarget, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	event := &models.ReconciliationEvent{
		ID:                uuid.NewString(),
		TicketID:          ticket.ID,
		Target:            target,
		Reason:            cause.Error(),
		RemainingCapacity: ticket.RemainingCapacity,
		Version:           ticket.Version,
		CreatedAt:         p.cfg.Now().UTC(),
	}

	p.monitor.TrackReconciliation(string(target))
	p.logger.Error("manual reconciliation required",
		"event_id", event.ID,
		"target", target,
		"ticket_id", ticket.ID,
		"remaining_capacity", ticket.RemainingCapacity,
		"version", ticket.Version,
		"error", cause,
	)

	if err := p.store.RecordReconciliation(ctx, event); err != nil {
		p.logger.Error("failed to persist reconciliation event", "event_id", event.ID, "error", err)
	}
	p.publish(ctx, notify.ReconciliationChannel, event)
}

func (p *Propagator) publish(ctx context.Context, channel string, message any) {
	if err := p.publisher.Publish(ctx, channel, message); err != nil {
		p.logger.Warn("notification failed", "channel", channel, "error", err)
	}
}

// Reconcile repairs secondary stores for every pending reconciliation event,
// reading the current ticket state from the store, and resolves the events it
// repaired. It returns how many events were resolved.
func (p *Propagator) Reconcile(ctx context.Context) (int, error) {
	events, err := p.store.ListPendingReconciliations(ctx, 100)
	if err != nil {
		return 0, err
	}
	p.monitor.SetPendingReconciliations(len(events))

	type repairKey struct {
		ticketID int64
		target   models.PropagationTarget
	}
	repaired := map[repairKey]error{}

	resolved := 0
	var errs []error
	for _, event := range events {
		key := repairKey{event.TicketID, event.Target}
		repairErr, done := repaired[key]
		if !done {
			repairErr = p.repair(ctx, event)
			repaired[key] = repairErr
		}
		if repairErr != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, repairErr))
			continue
		}

		if err := p.store.ResolveReconciliation(ctx, event.ID, p.cfg.Now()); err != nil {
			errs = append(errs, fmt.Errorf("resolve event %s: %w", event.ID, err))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		p.logger.Info("reconciliation events resolved", "count", resolved, "pending", len(events)-resolved)
	}
	return resolved, errors.Join(errs...)
}

func (p *Propagator) repair(ctx context.Context, event *models.ReconciliationEvent) error {
	ticket, err := p.store.GetTicket(ctx, event.TicketID)
	if err != nil {
		return err
	}

	switch event.Target {
	case models.TargetSearchIndex:
		return p.upsert(ctx, ticket)
	case models.TargetCache:
		return p.invalidate(ctx, ticket)
	}
	return fmt.Errorf("unknown reconciliation target %q", event.Target)
}

// Reindex rebuilds every search document from the store. Documents the index
// already holds at a newer version are left alone.
func (p *Propagator) Reindex(ctx context.Context) (int, error) {
	const pageSize = 200

	indexed := 0
	var afterID int64
	for {
		tickets, err := p.store.ListTickets(ctx, afterID, pageSize)
		if err != nil {
			return indexed, err
		}
		for _, t := range tickets {
			if err := p.upsert(ctx, t); err != nil {
				return indexed, fmt.Errorf("reindex ticket %d: %w", t.ID, err)
			}
			indexed++
			afterID = t.ID
		}
		if len(tickets) < pageSize {
			break
		}
	}

	p.logger.Info("search index rebuilt", "tickets", indexed)
	return indexed, nil
}
