package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InventoryReport struct {
	ReservationsByStatus map[ReservationStatus]int `json:"reservations_by_status"`
	Payments             int                       `json:"payments"`
	GrossRevenue         decimal.Decimal           `json:"gross_revenue"`
	TotalCapacity        int                       `json:"total_capacity"`
	RemainingCapacity    int                       `json:"remaining_capacity"`
	GeneratedAt          time.Time                 `json:"generated_at"`
}

type PropagationTarget string

const (
	TargetCache       PropagationTarget = "cache"
	TargetSearchIndex PropagationTarget = "search_index"
)

// ReconciliationEvent marks a secondary store that could not be brought in
// line with the transactional store after every retry.
type ReconciliationEvent struct {
	ID                string            `json:"event_id"`
	TicketID          int64             `json:"ticket_id"`
	Target            PropagationTarget `json:"target"`
	Reason            string            `json:"reason"`
	RemainingCapacity int               `json:"remaining_capacity"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
}
