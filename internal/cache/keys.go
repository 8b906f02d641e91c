package cache

import (
	"fmt"
	"strings"

	"ticket-inventory/models"
)

const ReportKey = "report:inventory"

func TicketDetailKey(ticketID int64) string {
	return fmt.Sprintf("ticket:detail:%d", ticketID)
}

// SearchKey identifies one cached route search. An empty vehicle type is the
// unfiltered variant.
func SearchKey(origin, destination, date string, vehicle models.VehicleType) string {
	v := string(vehicle)
	if v == "" {
		v = "all"
	}
	return fmt.Sprintf("ticket:search:%s:%s:%s:%s",
		strings.ToLower(strings.TrimSpace(origin)),
		strings.ToLower(strings.TrimSpace(destination)),
		date, v)
}

// RouteKeys returns every cached search variant for a route day.
func RouteKeys(origin, destination, date string) []string {
	return []string{
		SearchKey(origin, destination, date, ""),
		SearchKey(origin, destination, date, models.VehicleAirplane),
		SearchKey(origin, destination, date, models.VehicleBus),
		SearchKey(origin, destination, date, models.VehicleTrain),
	}
}

// TicketKeys returns every key derived from the ticket's state.
func TicketKeys(t *models.Ticket) []string {
	return append([]string{TicketDetailKey(t.ID)}, RouteKeys(t.Origin, t.Destination, t.DepartureDate())...)
}
