package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"ticket-inventory/models"
)

const RoleAdmin = "admin"

type TicketCreator interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	ReclaimExpired(ctx context.Context) (int, error)
}

type Maintenance interface {
	Reindex(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

type AdminHandler struct {
	inventory   TicketCreator
	catalog     Catalog
	maintenance Maintenance
	logger      *slog.Logger
}

func NewAdminHandler(inventory TicketCreator, catalog Catalog, maintenance Maintenance, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		inventory:   inventory,
		catalog:     catalog,
		maintenance: maintenance,
		logger:      logger.With("component", "admin"),
	}
}

// RequireAdmin lets through superusers and users with the admin role.
func RequireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !e.HasSuperuserAuth() && e.Auth.GetString("role") != RoleAdmin {
		return apis.NewForbiddenError("Admin access required", nil)
	}
	return e.Next()
}

type createTicketRequest struct {
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	DepartureAt   time.Time       `json:"departure_at"`
	ArrivalAt     time.Time       `json:"arrival_at"`
	Price         decimal.Decimal `json:"price"`
	TotalCapacity int             `json:"total_capacity"`
	CompanyName   string          `json:"company_name"`
	Features      models.Features `json:"features"`
}

// CreateTicket adds a ticket with all of its capacity available.
func (h *AdminHandler) CreateTicket(e *core.RequestEvent) error {
	var req createTicketRequest
	if err := e.BindBody(&req); err != nil {
		return badRequest("Invalid request", err)
	}

	ticket := &models.Ticket{
		Origin:            req.Origin,
		Destination:       req.Destination,
		DepartureAt:       req.DepartureAt,
		ArrivalAt:         req.ArrivalAt,
		Price:             req.Price,
		TotalCapacity:     req.TotalCapacity,
		RemainingCapacity: req.TotalCapacity,
		CompanyName:       req.CompanyName,
		Features:          req.Features,
	}
	if err := ticket.Validate(); err != nil {
		return badRequest("Invalid ticket", err)
	}

	created, err := h.inventory.CreateTicket(e.Request.Context(), ticket)
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusCreated, created)
}

func (h *AdminHandler) Report(e *core.RequestEvent) error {
	report, err := h.catalog.Report(e.Request.Context())
	if err != nil {
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, report)
}

// Sweep runs one expiry pass immediately.
func (h *AdminHandler) Sweep(e *core.RequestEvent) error {
	n, err := h.inventory.ReclaimExpired(e.Request.Context())
	if err != nil && n == 0 {
		return apiError(h.logger, err)
	}
	if err != nil {
		h.logger.Warn("manual sweep partially failed", "reclaimed", n, "error", err)
	}
	h.logger.Info("manual sweep", "reclaimed", n, "admin", e.Auth.Id)
	return e.JSON(http.StatusOK, map[string]any{"reclaimed": n})
}

func (h *AdminHandler) Reindex(e *core.RequestEvent) error {
	n, err := h.maintenance.Reindex(e.Request.Context())
	if err != nil {
		h.logger.Error("reindex failed", "indexed", n, "error", err)
		return apiError(h.logger, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"indexed": n})
}

func (h *AdminHandler) Reconcile(e *core.RequestEvent) error {
	n, err := h.maintenance.Reconcile(e.Request.Context())
	resp := map[string]any{"resolved": n}
	if err != nil {
		h.logger.Warn("reconciliation left events pending", "resolved", n, "error", err)
		resp["error"] = err.Error()
	}
	return e.JSON(http.StatusOK, resp)
}
