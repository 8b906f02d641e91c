package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SearchDocument is the flattened, denormalized projection of a Ticket kept in
// the search index.
type SearchDocument struct {
	TicketID          int64           `json:"ticket_id"`
	Origin            string          `json:"origin"`
	Destination       string          `json:"destination"`
	DepartureAt       time.Time       `json:"departure_at"`
	ArrivalAt         time.Time       `json:"arrival_at"`
	Price             decimal.Decimal `json:"price"`
	RemainingCapacity int             `json:"remaining_capacity"`
	CompanyName       string          `json:"company_name"`
	VehicleType       VehicleType     `json:"vehicle_type"`
	Features          Features        `json:"features"`
	Version           int64           `json:"version"`
}

func NewSearchDocument(t Ticket) SearchDocument {
	return SearchDocument{
		TicketID:          t.ID,
		Origin:            t.Origin,
		Destination:       t.Destination,
		DepartureAt:       t.DepartureAt.UTC(),
		ArrivalAt:         t.ArrivalAt.UTC(),
		Price:             t.Price,
		RemainingCapacity: t.RemainingCapacity,
		CompanyName:       t.CompanyName,
		VehicleType:       t.VehicleType(),
		Features:          t.Features,
		Version:           t.Version,
	}
}

type SearchQuery struct {
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	Date        string      `json:"date"` // YYYY-MM-DD, UTC
	VehicleType VehicleType `json:"vehicle_type,omitempty"`
}

func (q SearchQuery) Normalize() SearchQuery {
	q.Origin = strings.TrimSpace(q.Origin)
	q.Destination = strings.TrimSpace(q.Destination)
	q.Date = strings.TrimSpace(q.Date)
	q.VehicleType = VehicleType(strings.ToLower(strings.TrimSpace(string(q.VehicleType))))
	return q
}

func (q SearchQuery) Validate() error {
	if q.Origin == "" || q.Destination == "" {
		return fmt.Errorf("search: origin and destination are required")
	}
	if _, _, err := q.DayRange(); err != nil {
		return err
	}
	if q.VehicleType != "" && !q.VehicleType.Valid() {
		return fmt.Errorf("search: invalid vehicle type %q", q.VehicleType)
	}
	return nil
}

// DayRange returns the searched UTC day as the half-open range [start, end).
func (q SearchQuery) DayRange() (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, q.Date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("search: invalid date %q: %w", q.Date, err)
	}
	return day, day.Add(24 * time.Hour), nil
}

// Matches applies the query filters to a document the way the index does.
func (q SearchQuery) Matches(doc SearchDocument) bool {
	start, end, err := q.DayRange()
	if err != nil {
		return false
	}
	if !strings.EqualFold(doc.Origin, q.Origin) || !strings.EqualFold(doc.Destination, q.Destination) {
		return false
	}
	if doc.DepartureAt.Before(start) || !doc.DepartureAt.Before(end) {
		return false
	}
	if q.VehicleType != "" && doc.VehicleType != q.VehicleType {
		return false
	}
	return doc.RemainingCapacity > 0
}
