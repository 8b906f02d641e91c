package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"ticket-inventory/internal/cache"
	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

type CatalogConfig struct {
	TicketDetailTTL time.Duration
	SearchTTL       time.Duration
	ReportTTL       time.Duration
}

// CatalogService serves read models cache-aside. Nothing it returns may be
// used to decide a reservation.
type CatalogService struct {
	store   store.Store
	cache   TicketCache
	index   SearchIndex
	breaker *utils.CircuitBreaker
	monitor *monitoring.Monitor
	cfg     CatalogConfig
	logger  *slog.Logger
}

func NewCatalogService(st store.Store, c TicketCache, idx SearchIndex, breaker *utils.CircuitBreaker, monitor *monitoring.Monitor, cfg CatalogConfig, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		store:   st,
		cache:   c,
		index:   idx,
		breaker: breaker,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With("component", "catalog"),
	}
}

func (s *CatalogService) TicketDetail(ctx context.Context, ticketID int64) (*models.Ticket, error) {
	return readThrough(ctx, s, "ticket_detail", cache.TicketDetailKey(ticketID), s.cfg.TicketDetailTTL,
		func(ctx context.Context) (*models.Ticket, error) {
			return s.store.GetTicket(ctx, ticketID)
		})
}

// Search answers from the search index, or from the store when the index
// fails or its breaker is open.
func (s *CatalogService) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchDocument, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cache.SearchKey(q.Origin, q.Destination, q.Date, q.VehicleType)
	return readThrough(ctx, s, "ticket_search", key, s.cfg.SearchTTL,
		func(ctx context.Context) ([]models.SearchDocument, error) {
			var docs []models.SearchDocument
			err := s.breaker.Execute(ctx, func(ctx context.Context) error {
				var err error
				docs, err = s.index.Query(ctx, q)
				return err
			})
			if err == nil {
				return docs, nil
			}

			s.logger.Warn("search index unavailable, falling back to store", "error", err)
			tickets, err := s.store.SearchTickets(ctx, q)
			if err != nil {
				return nil, err
			}
			docs = make([]models.SearchDocument, 0, len(tickets))
			for _, t := range tickets {
				docs = append(docs, models.NewSearchDocument(*t))
			}
			return docs, nil
		})
}

func (s *CatalogService) Report(ctx context.Context) (*models.InventoryReport, error) {
	return readThrough(ctx, s, "inventory_report", cache.ReportKey, s.cfg.ReportTTL, s.store.InventoryReport)
}

// readThrough returns the cached value for key or loads, caches and returns
// it. Cache failures degrade to a load; load errors are never cached.
func readThrough[T any](ctx context.Context, s *CatalogService, resource, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var value T

	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &value); err == nil {
			s.monitor.TrackCache(resource, true)
			return value, nil
		}
		s.logger.Warn("discarding undecodable cache entry", "key", key)
	case !errors.Is(err, status.ErrCacheMiss):
		s.logger.Warn("cache read failed", "key", key, "error", err)
	}
	s.monitor.TrackCache(resource, false)

	value, err = load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if data, err := json.Marshal(value); err == nil {
		if err := s.cache.Set(ctx, key, data, ttl); err != nil {
			s.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return value, nil
}
