package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelguard/internal/geometry"
	"github.com/stwalsh4118/parcelguard/internal/logger"
	"github.com/stwalsh4118/parcelguard/internal/models"
	"github.com/stwalsh4118/parcelguard/internal/repository"
)

// ParcelService defines read operations over parcel listings.
type ParcelService interface {
	// GetParcel retrieves a parcel by id in any status.
	// Returns ErrParcelNotFound if it does not exist.
	GetParcel(ctx context.Context, id uuid.UUID) (*models.Parcel, error)

	// GetParcelAtPoint retrieves the active parcel that contains the given point.
	// Returns ErrInvalidCoordinates if coordinates are out of valid range.
	// Returns ErrParcelNotFound if no active parcel covers the point.
	GetParcelAtPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error)
}

// parcelService is the concrete implementation of ParcelService.
type parcelService struct {
	store repository.Reader
	log   *logger.Logger
}

// NewParcelService creates a new instance of ParcelService.
func NewParcelService(store repository.Reader, log *logger.Logger) ParcelService {
	return &parcelService{
		store: store,
		log:   log,
	}
}

// GetParcel retrieves a parcel by id.
func (s *parcelService) GetParcel(ctx context.Context, id uuid.UUID) (*models.Parcel, error) {
	parcel, err := s.store.GetParcel(ctx, id)
	if err != nil {
		s.log.Error("Failed to load parcel", err, map[string]interface{}{
			"parcel_id": id,
		})
		return nil, fmt.Errorf("failed to load parcel: %w", err)
	}
	if parcel == nil {
		return nil, fmt.Errorf("%w: %s", ErrParcelNotFound, id)
	}
	return parcel, nil
}

// GetParcelAtPoint validates the coordinates and looks up the active parcel
// covering them. Store lookups return nil, nil when nothing matches, which
// becomes ErrParcelNotFound here.
func (s *parcelService) GetParcelAtPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error) {
	fields := map[string]interface{}{
		"lat": lat,
		"lng": lng,
	}

	if lat < geometry.MinLatitude || lat > geometry.MaxLatitude {
		s.log.Warn("Invalid latitude provided", fields)
		return nil, fmt.Errorf("%w: latitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, geometry.MinLatitude, geometry.MaxLatitude, lat)
	}
	if lng < geometry.MinLongitude || lng > geometry.MaxLongitude {
		s.log.Warn("Invalid longitude provided", fields)
		return nil, fmt.Errorf("%w: longitude must be between %f and %f, got %f",
			ErrInvalidCoordinates, geometry.MinLongitude, geometry.MaxLongitude, lng)
	}

	s.log.Debug("Querying active parcel at point", fields)

	parcel, err := s.store.FindActiveAt(ctx, geometry.LatLng{Lat: lat, Lng: lng})
	if err != nil {
		s.log.Error("Failed to query parcel at point", err, fields)
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}
	if parcel == nil {
		return nil, ErrParcelNotFound
	}

	s.log.Info("Parcel found at point", map[string]interface{}{
		"lat":       lat,
		"lng":       lng,
		"parcel_id": parcel.ID,
		"owner_ref": parcel.OwnerRef,
	})
	return parcel, nil
}
