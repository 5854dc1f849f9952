package services

import (
	"fmt"

	"github.com/stwalsh4118/parcelguard/internal/geometry"
)

// Draft is one drafting session's boundary buffer. It is a plain value
// owned by its caller; nothing is persisted until the boundary is submitted.
type Draft struct {
	vertices geometry.Polygon
}

// NewDraft starts a session, optionally seeded with vertices.
func NewDraft(vertices ...geometry.LatLng) *Draft {
	return &Draft{vertices: append(geometry.Polygon(nil), vertices...)}
}

// AddVertex appends a vertex to the ring.
func (d *Draft) AddVertex(v geometry.LatLng) error {
	if err := checkCoordinates(v); err != nil {
		return err
	}
	d.vertices = append(d.vertices, v)
	return nil
}

// MoveVertex replaces the vertex at index i.
func (d *Draft) MoveVertex(i int, v geometry.LatLng) error {
	if i < 0 || i >= len(d.vertices) {
		return fmt.Errorf("%w: %d of %d", ErrVertexOutOfRange, i, len(d.vertices))
	}
	if err := checkCoordinates(v); err != nil {
		return err
	}
	d.vertices[i] = v
	return nil
}

// RemoveVertex deletes the vertex at index i.
func (d *Draft) RemoveVertex(i int) error {
	if i < 0 || i >= len(d.vertices) {
		return fmt.Errorf("%w: %d of %d", ErrVertexOutOfRange, i, len(d.vertices))
	}
	d.vertices = append(d.vertices[:i], d.vertices[i+1:]...)
	return nil
}

// Reset discards every vertex.
func (d *Draft) Reset() {
	d.vertices = nil
}

// Len returns the number of vertices drawn so far.
func (d *Draft) Len() int {
	return len(d.vertices)
}

// Boundary returns a copy of the current ring.
func (d *Draft) Boundary() geometry.Polygon {
	return append(geometry.Polygon(nil), d.vertices...)
}

// Preview returns live metrics for the ring. Fewer than three vertices, or
// collinear ones, measure zero.
func (d *Draft) Preview(engine *geometry.Engine) geometry.Metrics {
	return engine.Measure(d.vertices)
}

func checkCoordinates(v geometry.LatLng) error {
	if v.Lat < geometry.MinLatitude || v.Lat > geometry.MaxLatitude || v.Lng < geometry.MinLongitude || v.Lng > geometry.MaxLongitude {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinates, v.Lat, v.Lng)
	}
	return nil
}
