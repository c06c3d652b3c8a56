package opt

import (
	"fmt"
	"math"
)

// DistanceType selects the pairwise distance metric. It is fixed at matrix
// construction; there is no switching mid-search.
type DistanceType string

const (
	Haversine DistanceType = "haversine"
	Manhattan DistanceType = "manhattan"
)

// ParseDistanceType maps a request string to a DistanceType.
func ParseDistanceType(s string) (DistanceType, error) {
	switch DistanceType(s) {
	case Haversine, Manhattan:
		return DistanceType(s), nil
	case "":
		return Haversine, nil
	}
	return "", ConfigError(fmt.Sprintf("unsupported distance type %q", s))
}

const (
	earthRadiusKm = 6371.0
	// kmPerDegree approximates one degree of latitude; the longitude term is
	// additionally scaled by cos(mean latitude).
	kmPerDegree = 111.0
)

// haversineKm returns the great-circle distance in kilometers.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// manhattanKm approximates grid-constrained travel: absolute degree deltas
// scaled to kilometers so both metrics share a unit.
func manhattanKm(lat1, lng1, lat2, lng2 float64) float64 {
	meanLat := (lat1 + lat2) / 2
	dLat := math.Abs(lat1-lat2) * kmPerDegree
	dLng := math.Abs(lng1-lng2) * kmPerDegree * math.Cos(meanLat*math.Pi/180)
	return dLat + dLng
}

// Matrix is the precomputed symmetric distance table for one stop set.
// Built once, read-only afterwards; safe for concurrent reads.
type Matrix struct {
	n    int
	dist [][]float64
}

// NewMatrix computes all pairwise distances for the given stops.
func NewMatrix(stops []Stop, dt DistanceType) (*Matrix, error) {
	if len(stops) < 2 {
		return nil, ConfigError("a route needs at least 2 locations")
	}
	var fn func(lat1, lng1, lat2, lng2 float64) float64
	switch dt {
	case Haversine:
		fn = haversineKm
	case Manhattan:
		fn = manhattanKm
	default:
		return nil, ConfigError(fmt.Sprintf("unsupported distance type %q", dt))
	}
	n := len(stops)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := fn(stops[i].Lat, stops[i].Lng, stops[j].Lat, stops[j].Lng)
			d[i][j] = v
			d[j][i] = v
		}
	}
	return &Matrix{n: n, dist: d}, nil
}

// NewMatrixFromDistances builds a matrix from an explicit distance table.
// Used by callers that already have measured distances, and by tests that
// need exact travel times.
func NewMatrixFromDistances(dist [][]float64) (*Matrix, error) {
	n := len(dist)
	if n < 2 {
		return nil, ConfigError("a route needs at least 2 locations")
	}
	for i := range dist {
		if len(dist[i]) != n {
			return nil, ConfigError("distance table must be square")
		}
	}
	for i := range dist {
		if dist[i][i] != 0 {
			return nil, ConfigError("distance table diagonal must be zero")
		}
		for j := range dist[i] {
			if dist[i][j] < 0 {
				return nil, ConfigError("distances must be non-negative")
			}
			if dist[i][j] != dist[j][i] {
				return nil, ConfigError("distance table must be symmetric")
			}
		}
	}
	cp := make([][]float64, n)
	for i := range dist {
		cp[i] = append([]float64(nil), dist[i]...)
	}
	return &Matrix{n: n, dist: cp}, nil
}

// Len returns the number of stops covered by the matrix.
func (m *Matrix) Len() int { return m.n }

// Dist returns the distance between two stop indices in kilometers.
func (m *Matrix) Dist(i, j int) float64 { return m.dist[i][j] }

// TravelMinutes converts a leg distance to minutes at the given speed.
func (m *Matrix) TravelMinutes(i, j int, speedKph float64) float64 {
	return m.dist[i][j] / speedKph * 60
}

// MaxDist returns the largest pairwise distance, useful for sizing the
// violation penalty weight.
func (m *Matrix) MaxDist() float64 {
	max := 0.0
	for i := 0; i < m.n; i++ {
		for j := i + 1; j < m.n; j++ {
			if m.dist[i][j] > max {
				max = m.dist[i][j]
			}
		}
	}
	return max
}
