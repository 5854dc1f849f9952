package geometry

import "math"

// Unit constants
const (
	// EarthRadiusMeters is the sphere radius used for surface area (WGS84 semi-major axis).
	EarthRadiusMeters = 6378137.0
	// SquareMetersPerAcre is the exact international acre.
	SquareMetersPerAcre = 4046.8564224
	// SquareFeetPerSquareMeter converts m² to ft².
	SquareFeetPerSquareMeter = 10.7639
	// DefaultPlotSizeSqFt is the conventional 70ft x 100ft plot.
	DefaultPlotSizeSqFt = 7000.0
)

// Metrics is the live area feedback shown while a boundary is drawn.
type Metrics struct {
	AreaM2   float64 `json:"area_m2"`
	AreaSqFt float64 `json:"area_sqft"`
	Acres    float64 `json:"acres"`
	Plots    float64 `json:"plots"`
}

// Area returns the spherical surface area of the polygon in square meters.
// Rings with fewer than three distinct vertices are rejected; collinear rings
// measure zero so that a boundary can be measured while still being drawn.
func Area(p Polygon) (float64, error) {
	ring := p.Normalize()
	if err := checkVertices(ring); err != nil {
		return 0, err
	}
	return ringArea(ring), nil
}

// ringArea is Area without validation, for rings already known to be usable.
func ringArea(ring Polygon) float64 {
	if len(ring) < 3 || planarArea(ring) < degenerateThreshold {
		return 0
	}
	return math.Abs(signedSphericalArea(ring))
}

// signedSphericalArea sums the signed areas of the polar triangles formed by
// each edge and the north pole.
func signedSphericalArea(ring Polygon) float64 {
	prev := ring[len(ring)-1]
	prevTan := math.Tan((math.Pi/2 - toRadians(prev.Lat)) / 2)
	prevLng := toRadians(prev.Lng)

	var total float64
	for _, v := range ring {
		tanLat := math.Tan((math.Pi/2 - toRadians(v.Lat)) / 2)
		lng := toRadians(v.Lng)
		total += polarTriangleArea(tanLat, lng, prevTan, prevLng)
		prevTan, prevLng = tanLat, lng
	}
	return total * EarthRadiusMeters * EarthRadiusMeters
}

func polarTriangleArea(tan1, lng1, tan2, lng2 float64) float64 {
	deltaLng := lng1 - lng2
	t := tan1 * tan2
	return 2 * math.Atan2(t*math.Sin(deltaLng), 1+t*math.Cos(deltaLng))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ToAcres converts square meters to acres.
func ToAcres(areaM2 float64) float64 {
	return areaM2 / SquareMetersPerAcre
}

// ToSquareFeet converts square meters to square feet.
func ToSquareFeet(areaM2 float64) float64 {
	return areaM2 * SquareFeetPerSquareMeter
}

// ToPlotCount converts square meters to a count of plots of plotSizeM2 each.
// A non-positive plot size yields zero.
func ToPlotCount(areaM2, plotSizeM2 float64) float64 {
	if plotSizeM2 <= 0 {
		return 0
	}
	return areaM2 / plotSizeM2
}

// PlotSizeFromSquareFeet converts a plot convention expressed in square feet
// to square meters.
func PlotSizeFromSquareFeet(sqft float64) float64 {
	return sqft / SquareFeetPerSquareMeter
}
