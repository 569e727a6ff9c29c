package core

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/chaseio/chase-client/model"
)

// EarthRadiusMeters is the mean Earth radius used for every spherical
// calculation in the client.
const EarthRadiusMeters = 6371009.0

// Vec3 is a point on (or in) the unit sphere in an Earth-centred frame.
type Vec3 struct {
	X, Y, Z float64
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// unitVector maps a coordinate onto the unit sphere.
func unitVector(c model.Coordinate) Vec3 {
	lat := c.Latitude * satellite.DEG2RAD
	lng := c.Longitude * satellite.DEG2RAD
	cosLat := math.Cos(lat)
	return Vec3{
		X: cosLat * math.Cos(lng),
		Y: cosLat * math.Sin(lng),
		Z: math.Sin(lat),
	}
}

// DestinationPoint returns the point reached by travelling distance metres
// from `from` along the initial great-circle bearing (degrees clockwise
// from north). Inputs are not validated; NaN propagates.
func DestinationPoint(from model.Coordinate, distance, bearing float64) model.Coordinate {
	delta := distance / EarthRadiusMeters
	theta := bearing * satellite.DEG2RAD
	fromLat := from.Latitude * satellite.DEG2RAD
	fromLng := from.Longitude * satellite.DEG2RAD

	cosDelta, sinDelta := math.Cos(delta), math.Sin(delta)
	sinFromLat, cosFromLat := math.Sin(fromLat), math.Cos(fromLat)

	sinLat := sinFromLat*cosDelta + cosFromLat*sinDelta*math.Cos(theta)
	lat := math.Asin(sinLat)
	dLng := math.Atan2(math.Sin(theta)*sinDelta*cosFromLat, cosDelta-sinFromLat*sinLat)

	return model.Coordinate{
		Latitude:  lat * satellite.RAD2DEG,
		Longitude: (fromLng + dLng) * satellite.RAD2DEG,
	}
}

// DistanceMeters returns the great-circle distance between a and b.
//
// atan2(|a×b|, a·b) stays accurate for the short distances the game deals
// in, where acos(a·b) loses most of its precision.
func DistanceMeters(a, b model.Coordinate) float64 {
	va, vb := unitVector(a), unitVector(b)
	return math.Atan2(va.Cross(vb).Norm(), va.Dot(vb)) * EarthRadiusMeters
}
