package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
)

// ParcelStatus is the lifecycle state of a land parcel listing.
type ParcelStatus string

const (
	ParcelStatusDraft         ParcelStatus = "draft"
	ParcelStatusPendingReview ParcelStatus = "pending_review"
	ParcelStatusActive        ParcelStatus = "active"
	ParcelStatusArchived      ParcelStatus = "archived"
)

// DefaultCurrency is used when a submission does not name one.
const DefaultCurrency = "GHS"

// Parcel is a land-class listing with a claimed boundary.
// Only active parcels participate in overlap checks.
type Parcel struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Description *string
	Price       *int64 // minor currency units
	Boundary    geometry.Polygon
	Title       string
	OwnerRef    string
	Currency    string
	Status      ParcelStatus
	Centroid    geometry.LatLng
	AreaM2      float64
	AreaAcres   float64
	ID          uuid.UUID
}

// SetBoundary replaces the boundary and recomputes every derived field.
// Area is never taken from input.
func (p *Parcel) SetBoundary(boundary geometry.Polygon) error {
	ring := boundary.Normalize()
	area, err := geometry.Area(ring)
	if err != nil {
		return err
	}
	p.Boundary = ring
	p.AreaM2 = area
	p.AreaAcres = geometry.ToAcres(area)
	p.Centroid = ring.Centroid()
	return nil
}

// DefaultTitle is the listing title used when the submitter leaves it blank.
func DefaultTitle(acres float64) string {
	return fmt.Sprintf("%.2f Acre Plot", acres)
}

// IsActive reports whether the parcel is publicly listed and blocks overlaps.
func (p *Parcel) IsActive() bool {
	return p.Status == ParcelStatusActive
}
