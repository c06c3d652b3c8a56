package opt

import (
	"errors"
	"math"
	"testing"
)

func TestMatrixSymmetryAndZeroDiagonal(t *testing.T) {
	stops := []Stop{
		{Name: "berlin", Lat: 52.5200, Lng: 13.4050},
		{Name: "munich", Lat: 48.1351, Lng: 11.5820},
		{Name: "hamburg", Lat: 53.5511, Lng: 9.9937},
		{Name: "cologne", Lat: 50.9375, Lng: 6.9603},
	}
	for _, dt := range []DistanceType{Haversine, Manhattan} {
		m, err := NewMatrix(stops, dt)
		if err != nil {
			t.Fatalf("%s: %v", dt, err)
		}
		for i := 0; i < m.Len(); i++ {
			if m.Dist(i, i) != 0 {
				t.Fatalf("%s: Dist(%d,%d) = %v, want 0", dt, i, i, m.Dist(i, i))
			}
			for j := 0; j < m.Len(); j++ {
				if m.Dist(i, j) != m.Dist(j, i) {
					t.Fatalf("%s: asymmetric at (%d,%d)", dt, i, j)
				}
				if m.Dist(i, j) < 0 {
					t.Fatalf("%s: negative distance at (%d,%d)", dt, i, j)
				}
			}
		}
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	if d := haversineKm(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Fatalf("identical points: got %v, want 0", d)
	}
	// One degree of latitude is 6371 * pi/180 km.
	want := earthRadiusKm * math.Pi / 180
	if d := haversineKm(0, 0, 1, 0); math.Abs(d-want) > 0.01 {
		t.Fatalf("one degree latitude: got %v, want %v", d, want)
	}
	// Berlin to Munich is roughly 504 km great-circle.
	if d := haversineKm(52.5200, 13.4050, 48.1351, 11.5820); math.Abs(d-504) > 2 {
		t.Fatalf("berlin-munich: got %v, want ~504", d)
	}
}

func TestManhattanScaling(t *testing.T) {
	// Pure latitude move: exactly 111 km per degree.
	if d := manhattanKm(0, 0, 1, 0); math.Abs(d-kmPerDegree) > 1e-9 {
		t.Fatalf("lat degree: got %v, want %v", d, kmPerDegree)
	}
	// Pure longitude move on the equator: cos(0) keeps the full 111 km.
	if d := manhattanKm(0, 0, 0, 1); math.Abs(d-kmPerDegree) > 1e-9 {
		t.Fatalf("lng degree at equator: got %v, want %v", d, kmPerDegree)
	}
	// At 60N the longitude term shrinks to cos(60) = 0.5.
	if d := manhattanKm(60, 0, 60, 1); math.Abs(d-kmPerDegree/2) > 1e-9 {
		t.Fatalf("lng degree at 60N: got %v, want %v", d, kmPerDegree/2)
	}
}

func TestNewMatrixRejectsTooFewStops(t *testing.T) {
	_, err := NewMatrix([]Stop{{Name: "only"}}, Haversine)
	var ce ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}

func TestNewMatrixFromDistancesValidation(t *testing.T) {
	cases := []struct {
		name string
		in   [][]float64
	}{
		{"too small", [][]float64{{0}}},
		{"not square", [][]float64{{0, 1}, {1}}},
		{"empty row", [][]float64{{0, 1}, {}}},
		{"ragged later row", [][]float64{{0, 1, 2}, {1, 0, 3}, {2}}},
		{"nonzero diagonal", [][]float64{{1, 2}, {2, 0}}},
		{"negative", [][]float64{{0, -1}, {-1, 0}}},
		{"asymmetric", [][]float64{{0, 1}, {2, 0}}},
	}
	for _, c := range cases {
		if _, err := NewMatrixFromDistances(c.in); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
	m, err := NewMatrixFromDistances([][]float64{{0, 3, 4}, {3, 0, 5}, {4, 5, 0}})
	if err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}
	if m.Dist(0, 2) != 4 || m.Dist(2, 1) != 5 {
		t.Fatalf("unexpected distances: %v %v", m.Dist(0, 2), m.Dist(2, 1))
	}
	if m.MaxDist() != 5 {
		t.Fatalf("MaxDist = %v, want 5", m.MaxDist())
	}
}

func TestTravelMinutes(t *testing.T) {
	m, err := NewMatrixFromDistances([][]float64{{0, 40}, {40, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.TravelMinutes(0, 1, 40); math.Abs(got-60) > 1e-9 {
		t.Fatalf("40 km at 40 kph = %v min, want 60", got)
	}
}

func TestParseDistanceType(t *testing.T) {
	if dt, err := ParseDistanceType(""); err != nil || dt != Haversine {
		t.Fatalf("empty: got %v, %v", dt, err)
	}
	if dt, err := ParseDistanceType("manhattan"); err != nil || dt != Manhattan {
		t.Fatalf("manhattan: got %v, %v", dt, err)
	}
	if _, err := ParseDistanceType("euclidean"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
