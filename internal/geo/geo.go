// Package geo holds the small amount of WGS-84 geometry the DOP pipeline
// needs: geodetic to ECEF conversion and a three-component vector type.
package geo

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Vec3 is an ECEF position or direction in meters.
type Vec3 [3]float64

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale returns v multiplied by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{v[0] * k, v[1] * k, v[2] * k}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Unit returns v scaled to length one. The zero vector is returned as is.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// LLA is a geodetic position: latitude and longitude in degrees, altitude in
// meters above the WGS-84 ellipsoid.
type LLA struct {
	Lat, Lon, Alt float64
}

// ECEF converts the geodetic position to Earth-centered Earth-fixed meters.
func (p LLA) ECEF() Vec3 {
	lat := p.Lat * math.Pi / 180.0
	lon := p.Lon * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vec3{
		(n + p.Alt) * cosLat * math.Cos(lon),
		(n + p.Alt) * cosLat * math.Sin(lon),
		(n*(1-wgs84E2) + p.Alt) * sinLat,
	}
}
