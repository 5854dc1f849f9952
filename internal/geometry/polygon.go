package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned when a boundary cannot describe a parcel:
// fewer than three distinct vertices, out-of-range or non-finite coordinates,
// a degenerate (zero-area) ring, or a self-intersecting ring.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Coordinate range constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// LatLng is a single boundary vertex in WGS84 degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polygon is an ordered single-ring vertex sequence. It may be open or
// explicitly closed; every operation in this package treats it as closed.
type Polygon []LatLng

// Bounds is an axis-aligned bounding box in degrees.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Normalize returns a copy of the polygon with consecutive duplicate vertices
// and the trailing closing vertex removed.
func (p Polygon) Normalize() Polygon {
	out := make(Polygon, 0, len(p))
	for _, v := range p {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// Closed returns the normalized ring with the first vertex repeated at the end.
func (p Polygon) Closed() Polygon {
	ring := p.Normalize()
	if len(ring) == 0 {
		return ring
	}
	return append(ring, ring[0])
}

// Bounds returns the bounding box of the polygon. The zero Bounds is returned
// for an empty polygon.
func (p Polygon) Bounds() Bounds {
	if len(p) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: p[0].Lat, MaxLat: p[0].Lat, MinLng: p[0].Lng, MaxLng: p[0].Lng}
	for _, v := range p[1:] {
		b.MinLat = math.Min(b.MinLat, v.Lat)
		b.MaxLat = math.Max(b.MaxLat, v.Lat)
		b.MinLng = math.Min(b.MinLng, v.Lng)
		b.MaxLng = math.Max(b.MaxLng, v.Lng)
	}
	return b
}

// Centroid returns the vertex average of the normalized ring. It is used as the
// listing's map pin, not as a geometric centroid.
func (p Polygon) Centroid() LatLng {
	ring := p.Normalize()
	if len(ring) == 0 {
		return LatLng{}
	}
	var c LatLng
	for _, v := range ring {
		c.Lat += v.Lat
		c.Lng += v.Lng
	}
	n := float64(len(ring))
	return LatLng{Lat: c.Lat / n, Lng: c.Lng / n}
}

// Intersects reports whether two bounding boxes share any point, edges included.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat &&
		b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng
}

// Contains reports whether the point lies inside the ring (even-odd rule,
// planar in degrees). Points exactly on an edge may fall either way.
func (p Polygon) Contains(pt LatLng) bool {
	ring := p.Normalize()
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > pt.Lat) != (b.Lat > pt.Lat) &&
			pt.Lng < (b.Lng-a.Lng)*(pt.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lng {
			inside = !inside
		}
	}
	return inside
}

// checkVertices validates coordinate ranges and vertex count of a normalized ring.
func checkVertices(ring Polygon) error {
	if len(ring) < 3 {
		return fmt.Errorf("%w: need at least 3 distinct vertices, got %d", ErrInvalidGeometry, len(ring))
	}
	for i, v := range ring {
		if math.IsNaN(v.Lat) || math.IsNaN(v.Lng) || math.IsInf(v.Lat, 0) || math.IsInf(v.Lng, 0) {
			return fmt.Errorf("%w: vertex %d is not a finite coordinate", ErrInvalidGeometry, i)
		}
		if v.Lat < MinLatitude || v.Lat > MaxLatitude {
			return fmt.Errorf("%w: vertex %d latitude %f out of range", ErrInvalidGeometry, i, v.Lat)
		}
		if v.Lng < MinLongitude || v.Lng > MaxLongitude {
			return fmt.Errorf("%w: vertex %d longitude %f out of range", ErrInvalidGeometry, i, v.Lng)
		}
	}
	return nil
}

// planarArea is the shoelace area in squared degrees, used only to detect
// collinear rings.
func planarArea(ring Polygon) float64 {
	var sum float64
	n := len(ring)
	if n == 0 {
		return 0
	}
	// Offsetting by the first vertex keeps the products small.
	o := ring[0]
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		ax, ay := a.Lng-o.Lng, a.Lat-o.Lat
		bx, by := b.Lng-o.Lng, b.Lat-o.Lat
		sum += ax*by - bx*ay
	}
	return math.Abs(sum) / 2
}

// degenerateThreshold is the squared-degree area under which a ring is
// considered collinear (roughly 1 cm² at the equator).
const degenerateThreshold = 1e-14
