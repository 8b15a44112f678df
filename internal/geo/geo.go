// Package geo provides great-circle distance math for survey geofencing.
package geo

import "math"

// earthRadiusMeters is the mean Earth radius. All distances in this package
// are meters; survey target radii are stored in meters as well.
const earthRadiusMeters = 6_371_000

// Point is a position in signed decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula. The result is symmetric and
// non-negative, and Distance(p, p) == 0.
func Distance(a, b Point) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lng - a.Lng)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// WithinArea reports whether p lies within radiusMeters of center.
// The boundary is inclusive: a point exactly radiusMeters away is inside.
func WithinArea(p, center Point, radiusMeters float64) bool {
	return Distance(p, center) <= radiusMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
