package services

import "errors"

// Service-level errors
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrParcelNotFound     = errors.New("parcel not found")
	ErrTicketNotFound     = errors.New("ticket not found")

	// ErrAlreadyResolved is returned when a decision targets a resolved ticket.
	ErrAlreadyResolved = errors.New("ticket already resolved")
	// ErrDanglingReference is returned when a parcel a ticket refers to no
	// longer exists. The ticket stays open for manual intervention.
	ErrDanglingReference = errors.New("dangling parcel reference")
	// ErrInvalidTransition is returned when the subject parcel is no longer
	// pending review, so the decision cannot be applied.
	ErrInvalidTransition = errors.New("invalid parcel status transition")
	ErrInvalidDecision   = errors.New("decision must be approve or reject")
	ErrVertexOutOfRange  = errors.New("vertex index out of range")
)
