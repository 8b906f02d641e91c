package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"ticket-inventory/internal/status"
)

// apiError maps a coordinator error to the HTTP response the caller sees.
// Unknown errors are logged and reported without detail.
func apiError(logger *slog.Logger, err error) error {
	data := map[string]any{"code": status.Code(err)}

	switch {
	case errors.Is(err, status.ErrTicketNotFound),
		errors.Is(err, status.ErrReservationNotFound):
		return router.NewApiError(http.StatusNotFound, err.Error(), data)
	case errors.Is(err, status.ErrSoldOut):
		return router.NewApiError(http.StatusConflict, "Ticket is sold out", data)
	case errors.Is(err, status.ErrReservationInvalid),
		errors.Is(err, status.ErrReservationNotCancellable),
		errors.Is(err, status.ErrInvalidPaymentMethod):
		return router.NewApiError(http.StatusBadRequest, err.Error(), data)
	case status.IsRetryable(err):
		return router.NewApiError(http.StatusServiceUnavailable, "Inventory temporarily unavailable, retry later", data)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("unhandled inventory error", "error", err)
	return router.NewApiError(http.StatusInternalServerError, "Internal error", data)
}

func badRequest(message string, err error) error {
	var data map[string]any
	if err != nil {
		data = map[string]any{"detail": err.Error()}
	}
	return router.NewApiError(http.StatusBadRequest, message, data)
}

func pathID(e *core.RequestEvent, name string) (int64, error) {
	id, err := strconv.ParseInt(e.Request.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("Invalid "+name, err)
	}
	return id, nil
}
