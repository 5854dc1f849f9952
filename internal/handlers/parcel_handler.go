package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	apierrors "github.com/stwalsh4118/parcelguard/internal/errors"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/middleware"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/repository"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

// Submitter runs submissions through the overlap gate.
type Submitter interface {
	Preview(boundary geometry.Polygon) geometry.Metrics
	Submit(ctx context.Context, sub services.Submission) (*services.Decision, error)
}

// ParcelHandler handles parcel-related HTTP requests.
type ParcelHandler struct {
	gate          Submitter
	parcels       services.ParcelService
	reviewerRoles []string
}

// NewParcelHandler creates a new ParcelHandler instance. Callers holding one
// of reviewerRoles may read parcels in any status.
func NewParcelHandler(gate Submitter, parcels services.ParcelService, reviewerRoles []string) *ParcelHandler {
	return &ParcelHandler{
		gate:          gate,
		parcels:       parcels,
		reviewerRoles: reviewerRoles,
	}
}

// Preview handles POST /api/v1/parcels/preview.
// It returns area metrics for a boundary being drawn and stores nothing.
// Incomplete boundaries measure zero rather than failing.
func (h *ParcelHandler) Preview(c *gin.Context) {
	var req BoundaryRequest
	if !bindJSON(c, &req) {
		return
	}

	var boundary geometry.Polygon
	if len(req.Boundary.Coordinates) > 0 {
		var err error
		if boundary, err = req.Boundary.Boundary(); err != nil {
			apierrors.InvalidGeometry(c, err.Error())
			return
		}
	}

	c.JSON(http.StatusOK, PreviewResponse{Metrics: h.gate.Preview(boundary)})
}

// Submit handles POST /api/v1/parcels.
// 201 means the parcel was published; 202 means it overlaps an active
// parcel and is held for review with an open conflict ticket.
func (h *ParcelHandler) Submit(c *gin.Context) {
	var req SubmitParcelRequest
	if !bindJSON(c, &req) {
		return
	}

	boundary, err := req.Boundary.Boundary()
	if err != nil {
		apierrors.InvalidGeometry(c, err.Error())
		return
	}

	sub := services.Submission{
		Boundary:    boundary,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
	}
	if claims := middleware.GetClaims(c); claims != nil {
		sub.OwnerRef = claims.Subject
	}

	decision, err := h.gate.Submit(c.Request.Context(), sub)
	if err != nil {
		switch {
		case errors.Is(err, geometry.ErrInvalidGeometry):
			apierrors.InvalidGeometry(c, err.Error())
		case errors.Is(err, repository.ErrStoreConflict):
			apierrors.Conflict(c, apierrors.ErrConflict, "Submission conflicted with a concurrent write, please retry", nil)
		default:
			storeFailure(c, "Failed to submit parcel", err)
		}
		return
	}

	status := http.StatusCreated
	if decision.Outcome == services.OutcomeAwaitingReview {
		status = http.StatusAccepted
	}
	c.JSON(status, mapDecision(decision))
}

// Get handles GET /api/v1/parcels/:id.
func (h *ParcelHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id", "Invalid parcel id")
	if !ok {
		return
	}

	parcel, err := h.parcels.GetParcel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrParcelNotFound) {
			apierrors.NotFound(c, "Parcel not found")
			return
		}
		storeFailure(c, "Failed to load parcel", err)
		return
	}
	if !h.canView(c, parcel) {
		apierrors.NotFound(c, "Parcel not found")
		return
	}

	c.JSON(http.StatusOK, ParcelResponse{Parcel: mapParcel(parcel)})
}

// canView reports whether the caller may see parcel. Only active parcels are
// public; the owner and reviewers also see pending and archived ones.
func (h *ParcelHandler) canView(c *gin.Context, parcel *models.Parcel) bool {
	if parcel.IsActive() {
		return true
	}
	claims := middleware.GetClaims(c)
	if claims == nil {
		return false
	}
	return claims.Subject == parcel.OwnerRef || claims.HasAnyRole(h.reviewerRoles)
}

// AtPoint handles GET /api/v1/parcels?lat=&lng=.
// It returns the active parcel whose boundary contains the point.
func (h *ParcelHandler) AtPoint(c *gin.Context) {
	var req AtPointRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}

	parcel, err := h.parcels.GetParcelAtPoint(c.Request.Context(), *req.Lat, *req.Lng)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCoordinates):
			apierrors.BadRequest(c, err.Error(), nil)
		case errors.Is(err, services.ErrParcelNotFound):
			apierrors.NotFound(c, "No active parcel at this location")
		default:
			storeFailure(c, "Failed to query parcel data", err)
		}
		return
	}

	c.JSON(http.StatusOK, ParcelResponse{Parcel: mapParcel(parcel)})
}

// bindJSON binds the request body, writing the error response on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

// storeFailure reports an unexpected service error. A store that did not
// answer before the request deadline is reported as unavailable.
func storeFailure(c *gin.Context, message string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		apierrors.ServiceUnavailable(c, "Parcel store did not respond in time", err)
		return
	}
	apierrors.InternalServerError(c, message, err)
}

func pathUUID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		apierrors.BadRequest(c, message, map[string]interface{}{param: c.Param(param)})
		return uuid.Nil, false
	}
	return id, true
}
