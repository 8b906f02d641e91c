package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-inventory/models"
)

// upsertScript applies a document only when its version is newer than the
// stored one. KEYS[1] = document hash, KEYS[2] = route sorted set.
const upsertScript = `
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1],
	'version', ARGV[1],
	'ticket_id', ARGV[2],
	'origin', ARGV[3],
	'destination', ARGV[4],
	'departure_at', ARGV[5],
	'arrival_at', ARGV[6],
	'price', ARGV[7],
	'remaining_capacity', ARGV[8],
	'company_name', ARGV[9],
	'vehicle_type', ARGV[10],
	'features', ARGV[11])
redis.call('ZADD', KEYS[2], ARGV[12], ARGV[2])
return 1
`

// Index is the denormalized, eventually consistent search projection of
// tickets. Documents live in a hash per ticket; a sorted set per route orders
// them by departure time.
type Index struct {
	rdb    *redis.Client
	prefix string
}

func NewIndex(rdb *redis.Client, prefix string) *Index {
	return &Index{rdb: rdb, prefix: prefix}
}

func (i *Index) docKey(ticketID int64) string {
	return fmt.Sprintf("%sdoc:%d", i.prefix, ticketID)
}

func (i *Index) routeKey(origin, destination string) string {
	return fmt.Sprintf("%sroute:%s:%s", i.prefix,
		strings.ToLower(strings.TrimSpace(origin)),
		strings.ToLower(strings.TrimSpace(destination)))
}

func upsertArgs(doc models.SearchDocument) ([]any, error) {
	features, err := json.Marshal(doc.Features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return []any{
		strconv.FormatInt(doc.Version, 10),
		strconv.FormatInt(doc.TicketID, 10),
		doc.Origin,
		doc.Destination,
		doc.DepartureAt.UTC().Format(time.RFC3339),
		doc.ArrivalAt.UTC().Format(time.RFC3339),
		doc.Price.StringFixed(2),
		strconv.Itoa(doc.RemainingCapacity),
		doc.CompanyName,
		string(doc.VehicleType),
		string(features),
		strconv.FormatInt(doc.DepartureAt.Unix(), 10),
	}, nil
}

// Upsert writes the document unless the index already holds the same or a
// newer version. It reports whether the document was applied.
func (i *Index) Upsert(ctx context.Context, doc models.SearchDocument) (bool, error) {
	args, err := upsertArgs(doc)
	if err != nil {
		return false, err
	}

	keys := []string{i.docKey(doc.TicketID), i.routeKey(doc.Origin, doc.Destination)}
	applied, err := i.rdb.Eval(ctx, upsertScript, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("index upsert ticket %d: %w", doc.TicketID, err)
	}
	return applied == 1, nil
}

// Query returns documents on the route departing within the query's UTC day
// that still have capacity, ordered by departure.
func (i *Index) Query(ctx context.Context, q models.SearchQuery) ([]models.SearchDocument, error) {
	start, end, err := q.DayRange()
	if err != nil {
		return nil, err
	}

	ids, err := i.rdb.ZRangeByScore(ctx, i.routeKey(q.Origin, q.Destination), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: "(" + strconv.FormatInt(end.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("index query route: %w", err)
	}

	docs := make([]models.SearchDocument, 0, len(ids))
	for _, id := range ids {
		ticketID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		fields, err := i.rdb.HGetAll(ctx, i.docKey(ticketID)).Result()
		if err != nil {
			return nil, fmt.Errorf("index load ticket %d: %w", ticketID, err)
		}
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeDocument(fields)
		if err != nil {
			return nil, fmt.Errorf("index decode ticket %d: %w", ticketID, err)
		}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func decodeDocument(fields map[string]string) (models.SearchDocument, error) {
	var doc models.SearchDocument
	var err error

	if doc.TicketID, err = strconv.ParseInt(fields["ticket_id"], 10, 64); err != nil {
		return doc, err
	}
	if doc.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return doc, err
	}
	if doc.RemainingCapacity, err = strconv.Atoi(fields["remaining_capacity"]); err != nil {
		return doc, err
	}
	if doc.DepartureAt, err = time.Parse(time.RFC3339, fields["departure_at"]); err != nil {
		return doc, err
	}
	if doc.ArrivalAt, err = time.Parse(time.RFC3339, fields["arrival_at"]); err != nil {
		return doc, err
	}
	if doc.Price, err = decimal.NewFromString(fields["price"]); err != nil {
		return doc, err
	}
	if f := fields["features"]; f != "" {
		if err = json.Unmarshal([]byte(f), &doc.Features); err != nil {
			return doc, err
		}
	}

	doc.Origin = fields["origin"]
	doc.Destination = fields["destination"]
	doc.CompanyName = fields["company_name"]
	doc.VehicleType = models.VehicleType(fields["vehicle_type"])
	return doc, nil
}
