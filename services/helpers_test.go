package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

var errIndexDown = errors.New("index unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCache struct {
	mu        sync.Mutex
	data      map[string][]byte
	getErr    error
	deleteErr error
	deletes   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, status.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.deleteErr != nil {
		return c.deleteErr
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// fakeIndex keeps documents with the same version guard as the Redis index.
type fakeIndex struct {
	mu       sync.Mutex
	docs     map[int64]models.SearchDocument
	failures int // -1 fails forever
	queryErr error
	upserts  int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[int64]models.SearchDocument{}}
}

func (f *fakeIndex) Upsert(ctx context.Context, doc models.SearchDocument) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return false, errIndexDown
	}
	if cur, ok := f.docs[doc.TicketID]; ok && cur.Version >= doc.Version {
		return false, nil
	}
	f.docs[doc.TicketID] = doc
	return true, nil
}

func (f *fakeIndex) Query(ctx context.Context, q models.SearchQuery) ([]models.SearchDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []models.SearchDocument
	for _, d := range f.docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (f *fakeIndex) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeIndex) doc(ticketID int64) (models.SearchDocument, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[ticketID]
	return d, ok
}

func (f *fakeIndex) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type published struct {
	channel string
	message any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{channel, message})
	return nil
}

func (p *fakePublisher) on(channel string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.messages {
		if m.channel == channel {
			out = append(out, m.message)
		}
	}
	return out
}

type testEnv struct {
	store      *store.MemoryStore
	cache      *fakeCache
	index      *fakeIndex
	publisher  *fakePublisher
	clock      *testClock
	breaker    *utils.CircuitBreaker
	monitor    *monitoring.Monitor
	propagator *Propagator
	inventory  *InventoryService
	catalog    *CatalogService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     store.NewMemoryStore(),
		cache:     newFakeCache(),
		index:     newFakeIndex(),
		publisher: &fakePublisher{},
		clock:     &testClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)},
		breaker:   utils.NewCircuitBreaker("search_index", 100, time.Minute),
		monitor:   monitoring.NewMonitor(prometheus.NewRegistry()),
	}

	env.propagator = NewPropagator(env.store, env.cache, env.index, env.breaker, env.publisher, env.monitor,
		PropagatorConfig{MaxAttempts: 3, Backoff: time.Millisecond, Timeout: 5 * time.Second, Now: env.clock.Now}, nil)
	env.inventory = NewInventoryService(env.store, env.propagator, env.monitor,
		InventoryConfig{HoldDuration: 10 * time.Minute, OperationTimeout: 2 * time.Second, SweepBatchSize: 100, Now: env.clock.Now}, nil)
	env.catalog = NewCatalogService(env.store, env.cache, env.index, env.breaker, env.monitor,
		CatalogConfig{TicketDetailTTL: time.Minute, SearchTTL: time.Minute, ReportTTL: time.Minute}, nil)

	t.Cleanup(env.propagator.Wait)
	return env
}

// seedTicket stores a train ticket departing after the given delay.
func (e *testEnv) seedTicket(t *testing.T, capacity int, price string, departIn time.Duration) *models.Ticket {
	t.Helper()
	departure := e.clock.Now().Add(departIn)
	ticket, err := e.store.CreateTicket(context.Background(), &models.Ticket{
		Origin:            "Vientiane",
		Destination:       "Boten",
		DepartureAt:       departure,
		ArrivalAt:         departure.Add(3 * time.Hour),
		Price:             decimal.RequireFromString(price),
		TotalCapacity:     capacity,
		RemainingCapacity: capacity,
		CompanyName:       "LCR",
		Features:          models.Features{Train: &models.TrainFeatures{NumberOfStars: 4}},
	})
	require.NoError(t, err)
	return ticket
}

func (e *testEnv) remaining(t *testing.T, ticketID int64) int {
	t.Helper()
	ticket, err := e.store.GetTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return ticket.RemainingCapacity
}

func (e *testEnv) reservationStatus(t *testing.T, reservationID int64) models.ReservationStatus {
	t.Helper()
	r, err := e.store.GetReservation(context.Background(), reservationID)
	require.NoError(t, err)
	return r.Status
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
