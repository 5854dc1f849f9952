package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/services"
)

// BoundaryRequest is the body of a preview request.
type BoundaryRequest struct {
	Boundary models.Polygon `json:"boundary"`
}

// SubmitParcelRequest is the body of a parcel submission. The boundary may
// be GeoJSON or a bare {"lat","lng"} path; area is always computed.
type SubmitParcelRequest struct {
	Boundary    models.Polygon `json:"boundary"`
	Title       string         `json:"title" binding:"max=200"`
	Description *string        `json:"description" binding:"omitempty,max=5000"`
	Price       *int64         `json:"price" binding:"omitempty,gte=0"`
	Currency    string         `json:"currency" binding:"omitempty,iso4217"`
}

// AtPointRequest represents the query parameters for a point lookup.
type AtPointRequest struct {
	Lat *float64 `form:"lat" binding:"required,latitude"`
	Lng *float64 `form:"lng" binding:"required,longitude"`
}

// ListTicketsRequest represents the query parameters for the ticket queue.
type ListTicketsRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=open resolved all"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ResolveTicketRequest is the adjudicator's decision.
type ResolveTicketRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// PreviewResponse carries live metrics for a drawn boundary.
type PreviewResponse struct {
	Metrics geometry.Metrics `json:"metrics"`
}

// ParcelData is the API view of a parcel.
type ParcelData struct {
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Description *string         `json:"description,omitempty"`
	Price       *int64          `json:"price,omitempty"`
	Boundary    models.Polygon  `json:"boundary"`
	ID          string          `json:"id"`
	OwnerRef    string          `json:"owner_ref"`
	Title       string          `json:"title"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Centroid    geometry.LatLng `json:"centroid"`
	AreaM2      float64         `json:"area_m2"`
	Acres       float64         `json:"acres"`
}

// ParcelResponse wraps a single parcel.
type ParcelResponse struct {
	Parcel ParcelData `json:"parcel"`
}

// SubmitResponse is the gate's decision on a submission.
type SubmitResponse struct {
	Ticket   *TicketData             `json:"ticket,omitempty"`
	Outcome  string                  `json:"outcome"`
	Overlaps []models.OverlapSummary `json:"overlaps,omitempty"`
	Parcel   ParcelData              `json:"parcel"`
	Metrics  geometry.Metrics        `json:"metrics"`
}

// TicketData is the API view of a conflict ticket.
type TicketData struct {
	CreatedAt          time.Time             `json:"created_at"`
	ResolvedAt         *time.Time            `json:"resolved_at,omitempty"`
	Resolution         *string               `json:"resolution,omitempty"`
	ResolvedBy         *string               `json:"resolved_by,omitempty"`
	ID                 string                `json:"id"`
	SubjectParcelID    string                `json:"subject_parcel_id"`
	Status             string                `json:"status"`
	CollidingParcelIDs []string              `json:"colliding_parcel_ids"`
	OverlapSummary     models.OverlapSummary `json:"overlap_summary"`
	OverlapCount       int                   `json:"overlap_count"`
}

// TicketResponse wraps a single ticket.
type TicketResponse struct {
	Ticket TicketData `json:"ticket"`
}

// TicketListResponse is a page of the ticket queue.
type TicketListResponse struct {
	Tickets   []TicketData `json:"tickets"`
	Count     int          `json:"count"`
	OpenCount int          `json:"open_count"`
}

// TicketReviewResponse is a ticket with the parcels it references.
type TicketReviewResponse struct {
	Subject   *ParcelData             `json:"subject"`
	Ticket    TicketData              `json:"ticket"`
	Colliding []ParcelData            `json:"colliding"`
	Missing   []string                `json:"missing_parcel_ids,omitempty"`
	Overlaps  []models.OverlapSummary `json:"overlaps"`
}

func mapParcel(p *models.Parcel) ParcelData {
	return ParcelData{
		ID:          p.ID.String(),
		OwnerRef:    p.OwnerRef,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Currency:    p.Currency,
		Status:      string(p.Status),
		Boundary:    models.PolygonFromBoundary(p.Boundary),
		Centroid:    p.Centroid,
		AreaM2:      p.AreaM2,
		Acres:       p.AreaAcres,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapTicket(t *models.ConflictTicket) TicketData {
	dto := TicketData{
		ID:                 t.ID.String(),
		SubjectParcelID:    t.SubjectParcelID.String(),
		CollidingParcelIDs: uuidStrings(t.CollidingParcelIDs),
		OverlapSummary:     t.OverlapSummary,
		OverlapCount:       t.OverlapCount,
		Status:             string(t.Status),
		CreatedAt:          t.CreatedAt,
		ResolvedAt:         t.ResolvedAt,
		ResolvedBy:         t.ResolvedBy,
	}
	if t.Resolution != nil {
		r := string(*t.Resolution)
		dto.Resolution = &r
	}
	return dto
}

func mapDecision(d *services.Decision) SubmitResponse {
	resp := SubmitResponse{
		Outcome:  string(d.Outcome),
		Parcel:   mapParcel(&d.Parcel),
		Metrics:  d.Metrics,
		Overlaps: d.Summaries,
	}
	if d.Ticket != nil {
		t := mapTicket(d.Ticket)
		resp.Ticket = &t
	}
	return resp
}

func mapReview(r *services.TicketReview) TicketReviewResponse {
	resp := TicketReviewResponse{
		Ticket:    mapTicket(&r.Ticket),
		Colliding: make([]ParcelData, 0, len(r.Colliding)),
		Missing:   uuidStrings(r.Missing),
		Overlaps:  r.Summaries,
	}
	if r.Subject != nil {
		s := mapParcel(r.Subject)
		resp.Subject = &s
	}
	for i := range r.Colliding {
		resp.Colliding = append(resp.Colliding, mapParcel(&r.Colliding[i]))
	}
	return resp
}

func uuidStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
