package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/stwalsh4118/parcelguard/internal/geometry"
)

// Polygon is the GeoJSON edge representation of a parcel boundary.
// It stores coordinates in GeoJSON order: [rings][points][lon,lat], SRID 4326.
// Only the exterior ring is meaningful for parcels; Boundary converts it to
// the geometry engine's vertex list.
type Polygon struct {
	Coordinates [][][2]float64 // GeoJSON coordinate structure
	SRID        int            // Spatial Reference ID (default: 4326)
}

// PolygonFromBoundary converts an engine polygon into a closed GeoJSON ring.
func PolygonFromBoundary(boundary geometry.Polygon) Polygon {
	closed := boundary.Closed()
	ring := make([][2]float64, len(closed))
	for i, v := range closed {
		ring[i] = [2]float64{v.Lng, v.Lat}
	}
	return Polygon{Coordinates: [][][2]float64{ring}, SRID: 4326}
}

// Boundary returns the exterior ring as an engine polygon.
// Interior rings are rejected: a parcel boundary is a single ring.
func (p Polygon) Boundary() (geometry.Polygon, error) {
	if len(p.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: polygon has no rings", geometry.ErrInvalidGeometry)
	}
	if len(p.Coordinates) > 1 {
		return nil, fmt.Errorf("%w: parcel boundary must be a single ring, got %d", geometry.ErrInvalidGeometry, len(p.Coordinates))
	}
	out := make(geometry.Polygon, len(p.Coordinates[0]))
	for i, c := range p.Coordinates[0] {
		out[i] = geometry.LatLng{Lat: c[1], Lng: c[0]}
	}
	return out.Normalize(), nil
}

// Scan implements sql.Scanner interface for reading polygon geometry from database.
// PostGIS returns geometry data which we parse as GeoJSON via ST_AsGeoJSON.
func (p *Polygon) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan Polygon: expected []byte, got %T", value)
	}

	var geom struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}

	if err := json.Unmarshal(bytes, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal polygon geometry: %w", err)
	}

	if geom.Type != "Polygon" {
		return fmt.Errorf("expected Polygon type, got %s", geom.Type)
	}

	p.Coordinates = geom.Coordinates
	p.SRID = 4326

	return nil
}

// Value implements driver.Valuer interface for writing polygon geometry to database.
// Returns GeoJSON string to be used with ST_GeomFromGeoJSON in raw SQL queries.
func (p Polygon) Value() (driver.Value, error) {
	if len(p.Coordinates) == 0 {
		return nil, nil
	}

	geom := map[string]interface{}{
		"type":        "Polygon",
		"coordinates": p.Coordinates,
	}

	geoJSON, err := json.Marshal(geom)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon to GeoJSON: %w", err)
	}

	return string(geoJSON), nil
}

// MarshalJSON implements json.Marshaler for API responses.
// Returns GeoJSON-compliant format for frontend consumption.
func (p Polygon) MarshalJSON() ([]byte, error) {
	geom := struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}{
		Type:        "Polygon",
		Coordinates: p.Coordinates,
	}
	return json.Marshal(geom)
}

// UnmarshalJSON accepts the boundary shapes the drawing surfaces produce:
// a GeoJSON Polygon, a GeoJSON Feature wrapping one, a single-member
// MultiPolygon, or a bare path of {"lat","lng"} vertices.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var path []geometry.LatLng
	if err := json.Unmarshal(data, &path); err == nil {
		*p = PolygonFromBoundary(path)
		return nil
	}

	var geom struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
		Geometry    json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal polygon: %w", err)
	}

	switch geom.Type {
	case "Feature":
		if len(geom.Geometry) == 0 {
			return fmt.Errorf("feature has no geometry")
		}
		return p.UnmarshalJSON(geom.Geometry)
	case "", "Polygon":
		var coords [][][2]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to unmarshal polygon coordinates: %w", err)
		}
		p.Coordinates = coords
	case "MultiPolygon":
		var coords [][][][2]float64
		if err := json.Unmarshal(geom.Coordinates, &coords); err != nil {
			return fmt.Errorf("failed to unmarshal multipolygon coordinates: %w", err)
		}
		if len(coords) != 1 {
			return fmt.Errorf("expected a single polygon, got MultiPolygon with %d members", len(coords))
		}
		p.Coordinates = coords[0]
	default:
		return fmt.Errorf("expected Polygon type, got %s", geom.Type)
	}

	p.SRID = 4326
	return nil
}
