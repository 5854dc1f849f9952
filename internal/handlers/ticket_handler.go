package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apierrors "github.com/stwalsh4118/parcelguard/internal/errors"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

const (
	defaultTicketPageSize = 50
	statusAll             = "all"
)

// TicketWorkflow is the reviewer side of the conflict ticket workflow.
type TicketWorkflow interface {
	List(ctx context.Context, status models.TicketStatus, limit int) ([]models.ConflictTicket, error)
	CountOpen(ctx context.Context) (int, error)
	Review(ctx context.Context, id uuid.UUID) (*services.TicketReview, error)
	Resolve(ctx context.Context, id uuid.UUID, decision models.Resolution, actor string) (*models.ConflictTicket, error)
}

// TicketHandler serves the reviewer queue.
type TicketHandler struct {
	tickets TicketWorkflow
}

// NewTicketHandler creates a new TicketHandler instance.
func NewTicketHandler(tickets TicketWorkflow) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// List handles GET /api/v1/tickets.
// Status defaults to open; "all" lists every ticket. Newest first.
func (h *TicketHandler) List(c *gin.Context) {
	var req ListTicketsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultTicketPageSize
	}

	var status models.TicketStatus
	switch req.Status {
	case "":
		status = models.TicketStatusOpen
	case statusAll:
	default:
		status = models.TicketStatus(req.Status)
	}

	ctx := c.Request.Context()
	tickets, err := h.tickets.List(ctx, status, req.Limit)
	if err != nil {
		storeFailure(c, "Failed to list tickets", err)
		return
	}
	open, err := h.tickets.CountOpen(ctx)
	if err != nil {
		storeFailure(c, "Failed to count open tickets", err)
		return
	}

	resp := TicketListResponse{
		Tickets:   make([]TicketData, 0, len(tickets)),
		OpenCount: open,
	}
	for i := range tickets {
		resp.Tickets = append(resp.Tickets, mapTicket(&tickets[i]))
	}
	resp.Count = len(resp.Tickets)

	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/tickets/:id.
// The response carries the referenced parcels and overlap figures
// recomputed from their current boundaries.
func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id", "Invalid ticket id")
	if !ok {
		return
	}

	review, err := h.tickets.Review(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			apierrors.NotFound(c, "Ticket not found")
			return
		}
		storeFailure(c, "Failed to load ticket", err)
		return
	}

	c.JSON(http.StatusOK, mapReview(review))
}

// Resolve handles POST /api/v1/tickets/:id/resolve.
func (h *TicketHandler) Resolve(c *gin.Context) {
	id, ok := pathUUID(c, "id", "Invalid ticket id")
	if !ok {
		return
	}

	var req ResolveTicketRequest
	if !bindJSON(c, &req) {
		return
	}
	decision, ok := models.ParseResolution(req.Decision)
	if !ok {
		apierrors.BadRequest(c, "Decision must be approve or reject", map[string]interface{}{
			"decision": req.Decision,
		})
		return
	}

	var actor string
	if claims := middleware.GetClaims(c); claims != nil {
		actor = claims.Subject
	}

	ticket, err := h.tickets.Resolve(c.Request.Context(), id, decision, actor)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTicketNotFound):
			apierrors.NotFound(c, "Ticket not found")
		case errors.Is(err, services.ErrInvalidDecision):
			apierrors.BadRequest(c, "Decision must be approve or reject", nil)
		case errors.Is(err, services.ErrAlreadyResolved):
			apierrors.Conflict(c, apierrors.ErrAlreadyResolved, "Ticket has already been resolved", nil)
		case errors.Is(err, services.ErrDanglingReference):
			apierrors.Conflict(c, apierrors.ErrDanglingReference,
				"A parcel referenced by this ticket no longer exists; the ticket needs manual intervention", nil)
		case errors.Is(err, services.ErrInvalidTransition):
			apierrors.Conflict(c, apierrors.ErrInvalidTransition, "Subject parcel is no longer pending review", nil)
		default:
			storeFailure(c, "Failed to resolve ticket", err)
		}
		return
	}

	c.JSON(http.StatusOK, TicketResponse{Ticket: mapTicket(ticket)})
}
