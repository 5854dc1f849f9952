package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the state of a conflict ticket. Resolved is terminal.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusResolved TicketStatus = "resolved"
)

// Resolution is the adjudicator's decision on a ticket.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
)

// ParseResolution accepts the decision names used by reviewer tools
// ("approve"/"approved", "reject"/"rejected"), case-insensitively.
func ParseResolution(s string) (Resolution, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return ResolutionApproved, true
	case "reject", "rejected":
		return ResolutionRejected, true
	default:
		return "", false
	}
}

// ParcelStatus returns the status a subject parcel moves to under this decision.
func (r Resolution) ParcelStatus() ParcelStatus {
	if r == ResolutionApproved {
		return ParcelStatusActive
	}
	return ParcelStatusArchived
}

// OverlapSummary describes how much of the subject parcel one colliding
// parcel covers. It is informational and recomputed for display.
type OverlapSummary struct {
	CollidingParcelID uuid.UUID `json:"colliding_parcel_id"`
	OverlapAreaM2     float64   `json:"overlap_area_m2"`
	OverlapAcres      float64   `json:"overlap_acres"`
	Percent           float64   `json:"percent"`
}

// ConflictTicket is the review record opened when a submission overlaps one
// or more active parcels. CollidingParcelIDs is non-empty and kept in
// discovery order; OverlapSummary describes the first of them.
type ConflictTicket struct {
	CreatedAt          time.Time
	ResolvedAt         *time.Time
	Resolution         *Resolution
	ResolvedBy         *string
	Status             TicketStatus
	CollidingParcelIDs []uuid.UUID
	OverlapSummary     OverlapSummary
	OverlapCount       int
	ID                 uuid.UUID
	SubjectParcelID    uuid.UUID
}

// IsOpen reports whether the ticket still awaits a decision.
func (t *ConflictTicket) IsOpen() bool {
	return t.Status == TicketStatusOpen
}
