// Package geo provides great-circle distance and radius-zone matching.
package geo

import (
	"math"

	"github.com/sells-group/areamatch/internal/model"
)

// EarthRadiusKM is the mean Earth radius used for all distance calculations.
const EarthRadiusKM = 6371.0

// DistanceKM returns the Haversine great-circle distance between two points.
func DistanceKM(p1, p2 model.Coordinate) float64 {
	lat1 := toRadians(p1.Lat)
	lat2 := toRadians(p2.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(p2.Lng - p1.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push a slightly above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(a))
}

// WithinRadius reports whether point lies within the zone's own threshold.
// The boundary is inclusive. Only radius zones can match.
func WithinRadius(point model.Coordinate, zone model.Zone) bool {
	if zone.Kind != model.ZoneKindRadius || zone.ThresholdKM <= 0 {
		return false
	}
	return DistanceKM(point, zone.Reference) <= zone.ThresholdKM
}

// MatchRadiusAreas returns every radius zone containing coord.
func MatchRadiusAreas(coord model.Coordinate, zones []model.Zone) model.CodeSet {
	out := model.NewCodeSet()
	for _, z := range zones {
		if WithinRadius(coord, z) {
			out.Add(z.Code)
		}
	}
	return out
}

// Nearest returns the smallest distance from coord to any of points and the
// index of that point. Returns (+Inf, -1) when points is empty.
func Nearest(coord model.Coordinate, points []model.Coordinate) (float64, int) {
	best, idx := math.Inf(1), -1
	for i, p := range points {
		if d := DistanceKM(coord, p); d < best {
			best, idx = d, i
		}
	}
	return best, idx
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
