package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type VehicleType string

const (
	VehicleAirplane VehicleType = "airplane"
	VehicleBus      VehicleType = "bus"
	VehicleTrain    VehicleType = "train"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleAirplane, VehicleBus, VehicleTrain:
		return true
	}
	return false
}

type AirplaneFeatures struct {
	FlightClass   string `json:"flight_class"`
	NumberOfStops int    `json:"number_of_stops"`
	FlightNumber  string `json:"flight_number"`
}

type BusFeatures struct {
	BusType string `json:"bus_type"`
}

type TrainFeatures struct {
	NumberOfStars     int  `json:"number_of_stars"`
	ClosedCompartment bool `json:"closed_compartment"`
}

// Features holds exactly one vehicle-specific attribute bundle.
type Features struct {
	Airplane *AirplaneFeatures `json:"airplane,omitempty"`
	Bus      *BusFeatures      `json:"bus,omitempty"`
	Train    *TrainFeatures    `json:"train,omitempty"`
}

var ErrInvalidFeatures = errors.New("ticket: exactly one vehicle feature set is required")

func (f Features) Validate() error {
	set := 0
	if f.Airplane != nil {
		set++
	}
	if f.Bus != nil {
		set++
	}
	if f.Train != nil {
		set++
	}
	if set != 1 {
		return ErrInvalidFeatures
	}
	return nil
}

// VehicleType reports the vehicle of the populated bundle, or "" when the
// bundle is invalid.
func (f Features) VehicleType() VehicleType {
	if f.Validate() != nil {
		return ""
	}
	switch {
	case f.Airplane != nil:
		return VehicleAirplane
	case f.Bus != nil:
		return VehicleBus
	default:
		return VehicleTrain
	}
}

type Ticket struct {
	ID                int64           `json:"ticket_id"`
	Origin            string          `json:"origin"`
	Destination       string          `json:"destination"`
	DepartureAt       time.Time       `json:"departure_at"`
	ArrivalAt         time.Time       `json:"arrival_at"`
	Price             decimal.Decimal `json:"price"`
	TotalCapacity     int             `json:"total_capacity"`
	RemainingCapacity int             `json:"remaining_capacity"`
	CompanyName       string          `json:"company_name"`
	Features          Features        `json:"features"`
	// Version increases by one on every capacity mutation.
	Version int64 `json:"version"`
}

func (t *Ticket) VehicleType() VehicleType {
	return t.Features.VehicleType()
}

// DepartureDate is the UTC calendar day used by route searches.
func (t *Ticket) DepartureDate() string {
	return t.DepartureAt.UTC().Format(DateLayout)
}

func (t *Ticket) Validate() error {
	switch {
	case t.Origin == "" || t.Destination == "":
		return errors.New("ticket: origin and destination are required")
	case !t.ArrivalAt.After(t.DepartureAt):
		return errors.New("ticket: arrival must be after departure")
	case t.Price.IsNegative():
		return errors.New("ticket: price must not be negative")
	case t.TotalCapacity < 0:
		return errors.New("ticket: total capacity must not be negative")
	case t.RemainingCapacity < 0 || t.RemainingCapacity > t.TotalCapacity:
		return errors.New("ticket: remaining capacity must be within [0, total capacity]")
	}
	return t.Features.Validate()
}

const DateLayout = "2006-01-02"
