package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/models"
)

type Catalog interface {
	TicketDetail(ctx context.Context, ticketID int64) (*models.Ticket, error)
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchDocument, error)
	Report(ctx context.Context) (*models.InventoryReport, error)
}

type PenaltyQuoter interface {
	PenaltyQuote(ctx context.Context, ticketID int64) (*models.PenaltyQuote, error)
}

type TicketHandler struct {
	catalog Catalog
	quoter  PenaltyQuoter
	logger  *slog.Logger
}

func NewTicketHandler(catalog Catalog, quoter PenaltyQuoter, logger *slog.Logger) *TicketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketHandler{
		catalog: catalog,
		quoter:  quoter,
		logger:  logger,
	}
}

// Search lists tickets on a route day. Results come from the search index and
// may trail the store by the propagation window.
func (h *TicketHandler) Search(e *core.RequestEvent) error {
	query := e.Request.URL.Query()
	q := models.SearchQuery{
		Origin:      query.Get("origin"),
		Destination: query.Get("destination"),
		Date:        query.Get("date"),
		VehicleType: models.VehicleType(query.Get("vehicle_type")),
	}.Normalize()
	if err := q.Validate(); err != nil {
		return badRequest("Invalid search", err)
	}

	docs, err := h.catalog.Search(e.Request.Context(), q)
	if err != nil {
		return apiError(h.logger, err)
	}
	if docs == nil {
		docs = []models.SearchDocument{}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"results": docs,
		"count":   len(docs),
	})
}

func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	ticketID, err := pathID(e, "ticketId")
	if err != nil {
		return err
	}

	ticket, err := h.catalog.TicketDetail(e.Request.Context(), ticketID)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, ticket)
}

// CancellationPenalty quotes what cancelling a ticket would cost right now.
func (h *TicketHandler) CancellationPenalty(e *core.RequestEvent) error {
	ticketID, err := pathID(e, "ticketId")
	if err != nil {
		return err
	}

	quote, err := h.quoter.PenaltyQuote(e.Request.Context(), ticketID)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"ticket_id":       ticketID,
		"penalty_percent": quote.PenaltyPercent,
		"penalty_amount":  quote.PenaltyAmount,
		"refund_amount":   quote.RefundAmount,
	})
}
