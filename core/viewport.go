package core

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/chaseio/chase-client/model"
)

const (
	// DefaultSpanDegrees is the span of the map before any fix is known.
	DefaultSpanDegrees = 0.0008
	// RegionRadiusFactor sizes the recentred region relative to the local
	// player's radius, in both directions.
	RegionRadiusFactor = 4.0

	minRegionMeters = 1.0
)

var metersPerDegree = EarthRadiusMeters * satellite.DEG2RAD

// DefaultRegion is the region shown before the first snapshot arrives.
func DefaultRegion() model.Region {
	return model.Region{
		Center:         model.Coordinate{Latitude: 37.3349, Longitude: -122.00902},
		LatitudeDelta:  DefaultSpanDegrees,
		LongitudeDelta: DefaultSpanDegrees,
	}
}

// RegionAround returns a region centred on p spanning RegionRadiusFactor
// times its radius north-south and east-west.
func RegionAround(p model.Player) model.Region {
	meters := math.Max(p.RadiusM*RegionRadiusFactor, minRegionMeters)
	latDelta := meters / metersPerDegree

	// Longitude degrees shrink towards the poles; cap the stretch so the
	// span stays finite there.
	cosLat := math.Max(math.Cos(p.Coordinate.Latitude*satellite.DEG2RAD), 0.01)
	return model.Region{
		Center:         p.Coordinate,
		LatitudeDelta:  latDelta,
		LongitudeDelta: latDelta / cosLat,
	}
}

// Recenter follows the local player. If the player is missing from the
// snapshot, prev is returned unchanged and ok is false.
func Recenter(prev model.Region, snapshot model.WorldSnapshot, localPlayerName string) (region model.Region, ok bool) {
	p, found := FindLocalPlayer(snapshot.Players, localPlayerName)
	if !found {
		return prev, false
	}
	return RegionAround(p), true
}
