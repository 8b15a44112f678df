package geo

import (
	"math"
	"testing"
)

// São Paulo city center and nearby points used across the suite. The
// reference distances were computed with the haversine formula on the
// 6,371,000 m mean radius, so tolerances below are purely about float noise.
var (
	spCenter  = Point{Lat: -23.5505, Lng: -46.6333}
	spNearby  = Point{Lat: -23.5550, Lng: -46.6350} // ~530 m from center
	spFarAway = Point{Lat: -23.60, Lng: -46.70}     // ~8.7 km from center
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	points := []Point{
		{0, 0},
		spCenter,
		{90, 0},
		{-90, 135},
	}
	for _, p := range points {
		if d := Distance(p, p); d != 0 {
			t.Errorf("Distance(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{spCenter, spNearby},
		{spCenter, spFarAway},
		{{51.5074, -0.1278}, {48.8566, 2.3522}}, // London - Paris
	}
	for _, pair := range pairs {
		ab := Distance(pair[0], pair[1])
		ba := Distance(pair[1], pair[0])
		if ab != ba {
			t.Errorf("Distance not symmetric: %v vs %v", ab, ba)
		}
		if ab < 0 {
			t.Errorf("Distance(%v, %v) = %v, want non-negative", pair[0], pair[1], ab)
		}
	}
}

func TestDistanceKnownFixtures(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		want      float64 // meters
		tolerance float64
	}{
		{"sao paulo nearby", spCenter, spNearby, 530, 30},
		{"sao paulo across town", spCenter, spFarAway, 8700, 300},
		{"london to paris", Point{51.5074, -0.1278}, Point{48.8566, 2.3522}, 343_500, 1000},
		{"one degree latitude at equator", Point{0, 0}, Point{1, 0}, 111_195, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Distance = %.0f m, want %.0f m (±%.0f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestWithinArea(t *testing.T) {
	// Survey scenario: 2 km radius around the city center.
	if !WithinArea(spNearby, spCenter, 2000) {
		t.Error("point ~530 m away should be within a 2000 m radius")
	}
	if WithinArea(spFarAway, spCenter, 2000) {
		t.Error("point ~8.7 km away should be outside a 2000 m radius")
	}
}

func TestWithinAreaBoundaryInclusive(t *testing.T) {
	d := Distance(spCenter, spNearby)
	if !WithinArea(spNearby, spCenter, d) {
		t.Errorf("point exactly %v m away should be within a %v m radius", d, d)
	}
	if WithinArea(spNearby, spCenter, math.Nextafter(d, 0)) {
		t.Error("point should be outside a radius strictly smaller than its distance")
	}
}

func TestWithinAreaZeroRadius(t *testing.T) {
	if !WithinArea(spCenter, spCenter, 0) {
		t.Error("a point is within a zero radius of itself")
	}
	if WithinArea(spNearby, spCenter, 0) {
		t.Error("a distinct point is not within a zero radius")
	}
}
