package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-inventory/models"
)

type Reservations interface {
	Reserve(ctx context.Context, ticketID int64, userID string) (*models.Reservation, error)
	Pay(ctx context.Context, reservationID int64, userID string, method models.PaymentMethod) (*models.Payment, error)
	Cancel(ctx context.Context, reservationID int64, userID string) (*models.CancellationResult, error)
	ListReservations(ctx context.Context, userID string) ([]*models.Reservation, error)
}

type ReservationHandler struct {
	reservations Reservations
	logger       *slog.Logger
}

func NewReservationHandler(reservations Reservations, logger *slog.Logger) *ReservationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationHandler{
		reservations: reservations,
		logger:       logger,
	}
}

func (h *ReservationHandler) Reserve(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		TicketID int64 `json:"ticket_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return badRequest("Invalid request", err)
	}
	if req.TicketID <= 0 {
		return badRequest("ticket_id is required", nil)
	}

	reservation, err := h.reservations.Reserve(e.Request.Context(), req.TicketID, e.Auth.Id)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusCreated, reservation)
}

// List returns the caller's own reservations.
func (h *ReservationHandler) List(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reservations, err := h.reservations.ListReservations(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"reservations": reservations,
		"count":        len(reservations),
	})
}

func (h *ReservationHandler) Pay(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reservationID, err := pathID(e, "reservationId")
	if err != nil {
		return err
	}

	var req struct {
		PaymentMethod models.PaymentMethod `json:"payment_method"`
	}
	if err := e.BindBody(&req); err != nil {
		return badRequest("Invalid request", err)
	}

	payment, err := h.reservations.Pay(e.Request.Context(), reservationID, e.Auth.Id, req.PaymentMethod)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, payment)
}

func (h *ReservationHandler) Cancel(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	reservationID, err := pathID(e, "reservationId")
	if err != nil {
		return err
	}

	result, err := h.reservations.Cancel(e.Request.Context(), reservationID, e.Auth.Id)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, result)
}
