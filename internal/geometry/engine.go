package geometry

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geos"
)

// Default engine settings
const (
	// DefaultEpsilonM2 is the overlap area below which two boundaries are
	// treated as merely touching.
	DefaultEpsilonM2 = 1.0
	// minSubjectAreaM2 guards severity against division by a vanishing area.
	minSubjectAreaM2 = 1e-9
)

// Config holds the tunables of an Engine.
type Config struct {
	EpsilonM2  float64
	PlotSizeM2 float64
}

// Overlap is the material intersection of two boundaries. Pieces holds the
// exterior ring of each intersection component; AreaM2 is net of any holes.
type Overlap struct {
	Pieces []Polygon `json:"pieces"`
	AreaM2 float64   `json:"area_m2"`
}

// Engine performs deterministic polygon computations. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	epsilonM2  float64
	plotSizeM2 float64
}

// NewEngine creates an Engine, substituting defaults for unset values.
func NewEngine(cfg Config) *Engine {
	if cfg.EpsilonM2 <= 0 {
		cfg.EpsilonM2 = DefaultEpsilonM2
	}
	if cfg.PlotSizeM2 <= 0 {
		cfg.PlotSizeM2 = PlotSizeFromSquareFeet(DefaultPlotSizeSqFt)
	}
	return &Engine{epsilonM2: cfg.EpsilonM2, plotSizeM2: cfg.PlotSizeM2}
}

// EpsilonM2 returns the material-overlap threshold.
func (e *Engine) EpsilonM2() float64 {
	return e.epsilonM2
}

// PlotSizeM2 returns the plot convention used by Measure.
func (e *Engine) PlotSizeM2() float64 {
	return e.plotSizeM2
}

// Validate checks that the polygon can be stored as a parcel boundary and
// returns its normalized (open, deduplicated) ring.
func (e *Engine) Validate(p Polygon) (Polygon, error) {
	ring := p.Normalize()
	if err := checkVertices(ring); err != nil {
		return nil, err
	}
	if planarArea(ring) < degenerateThreshold {
		return nil, fmt.Errorf("%w: vertices are collinear", ErrInvalidGeometry)
	}

	g, err := toGeom(ring)
	if err != nil {
		return nil, err
	}
	var valid bool
	var reason string
	if err := guard(func() {
		valid = g.IsValid()
		if !valid {
			reason = g.IsValidReason()
		}
	}); err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGeometry, reason)
	}
	return ring, nil
}

// Measure returns live area feedback. It never fails: a boundary that cannot
// be measured yet (fewer than three vertices) measures zero.
func (e *Engine) Measure(p Polygon) Metrics {
	areaM2, err := Area(p)
	if err != nil {
		return Metrics{}
	}
	return Metrics{
		AreaM2:   areaM2,
		AreaSqFt: ToSquareFeet(areaM2),
		Acres:    ToAcres(areaM2),
		Plots:    ToPlotCount(areaM2, e.plotSizeM2),
	}
}

// Intersection returns the overlapping region of a and b, or nil when they
// are disjoint or only touch (overlap area below the epsilon threshold).
func (e *Engine) Intersection(a, b Polygon) (*Overlap, error) {
	ringA, err := e.Validate(a)
	if err != nil {
		return nil, fmt.Errorf("first polygon: %w", err)
	}
	ringB, err := e.Validate(b)
	if err != nil {
		return nil, fmt.Errorf("second polygon: %w", err)
	}
	if !ringA.Bounds().Intersects(ringB.Bounds()) {
		return nil, nil
	}

	ga, err := toGeom(ringA)
	if err != nil {
		return nil, err
	}
	gb, err := toGeom(ringB)
	if err != nil {
		return nil, err
	}

	var overlap Overlap
	if err := guard(func() {
		inter := ga.Intersection(gb)
		if inter == nil || inter.IsEmpty() {
			return
		}
		for _, piece := range polygonParts(inter) {
			exterior := ringFromCoords(piece.ExteriorRing().CoordSeq().ToCoords())
			area := ringArea(exterior)
			for i := 0; i < piece.NumInteriorRings(); i++ {
				area -= ringArea(ringFromCoords(piece.InteriorRing(i).CoordSeq().ToCoords()))
			}
			if area <= 0 {
				continue
			}
			overlap.Pieces = append(overlap.Pieces, exterior)
			overlap.AreaM2 += area
		}
	}); err != nil {
		return nil, err
	}

	if overlap.AreaM2 < e.epsilonM2 {
		return nil, nil
	}
	return &overlap, nil
}

// Overlaps reports whether a and b share a material (above epsilon) area.
func (e *Engine) Overlaps(a, b Polygon) (bool, error) {
	overlap, err := e.Intersection(a, b)
	if err != nil {
		return false, err
	}
	return overlap != nil, nil
}

// OverlapSeverity returns the percentage of subject's area covered by its
// intersection with colliding, in [0, 100].
func (e *Engine) OverlapSeverity(subject, colliding Polygon) (float64, error) {
	_, percent, err := e.Severity(subject, colliding)
	return percent, err
}

// Severity returns both the overlap area and the percentage of subject it
// consumes, sharing one intersection computation.
func (e *Engine) Severity(subject, colliding Polygon) (areaM2, percent float64, err error) {
	subjectArea, err := Area(subject)
	if err != nil {
		return 0, 0, err
	}
	overlap, err := e.Intersection(subject, colliding)
	if err != nil {
		return 0, 0, err
	}
	if overlap == nil || subjectArea < minSubjectAreaM2 {
		return 0, 0, nil
	}
	percent = math.Min(overlap.AreaM2/subjectArea*100, 100)
	return overlap.AreaM2, percent, nil
}

// toGeom builds a GEOS polygon from a normalized ring. GEOS expects closed
// rings in (x=lng, y=lat) order.
func toGeom(ring Polygon) (*geos.Geom, error) {
	closed := ring.Closed()
	coords := make([][]float64, len(closed))
	for i, v := range closed {
		coords[i] = []float64{v.Lng, v.Lat}
	}

	var g *geos.Geom
	if err := guard(func() {
		g = geos.NewPolygon([][][]float64{coords})
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// polygonParts flattens an intersection result into its polygonal parts,
// dropping the line and point components produced by shared edges.
func polygonParts(g *geos.Geom) []*geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		return []*geos.Geom{g}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var parts []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			parts = append(parts, polygonParts(g.Geometry(i))...)
		}
		return parts
	default:
		return nil
	}
}

func ringFromCoords(coords [][]float64) Polygon {
	ring := make(Polygon, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		ring = append(ring, LatLng{Lat: c[1], Lng: c[0]})
	}
	return ring.Normalize()
}

// guard converts a GEOS panic into an ErrInvalidGeometry error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidGeometry, r)
		}
	}()
	fn()
	return nil
}
