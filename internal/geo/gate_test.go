package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var campus = Position{Lat: 28.6542, Lon: 77.2373}

func TestHaversineZeroForSamePoint(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(campus, campus))
}

func TestHaversineSymmetric(t *testing.T) {
	other := Position{Lat: 28.7041, Lon: 77.1025}
	assert.InDelta(t, Haversine(campus, other), Haversine(other, campus), 1e-9)
}

func TestHaversineKnownDistance(t *testing.T) {
	// ~1 degree of latitude is ~111.2km on the spherical model.
	north := Position{Lat: campus.Lat + 1, Lon: campus.Lon}
	d := Haversine(campus, north)
	assert.InDelta(t, 111195, d, 100)
}

func TestCheckProximityInside(t *testing.T) {
	loc := ClassLocation{Lat: campus.Lat, Lon: campus.Lon, AllowedRadiusMeters: 50}
	// ~30m north of the class location.
	pos := Position{Lat: campus.Lat + 30.0/111195, Lon: campus.Lon}

	res := CheckProximity(pos, loc)
	require.True(t, res.Allowed)
	assert.InDelta(t, 30, res.DistanceMeters, 1)
}

func TestCheckProximityOutside(t *testing.T) {
	loc := ClassLocation{Lat: campus.Lat, Lon: campus.Lon, AllowedRadiusMeters: 50}
	pos := Position{Lat: campus.Lat + 80.0/111195, Lon: campus.Lon}

	res := CheckProximity(pos, loc)
	require.False(t, res.Allowed)
	assert.InDelta(t, 80, res.DistanceMeters, 1)
}

func TestCheckProximityBoundaryInclusive(t *testing.T) {
	loc := ClassLocation{Lat: campus.Lat, Lon: campus.Lon}
	pos := Position{Lat: campus.Lat, Lon: campus.Lon}
	res := CheckProximity(pos, loc)
	assert.True(t, res.Allowed, "distance equal to radius must be allowed")

	exact := ClassLocation{Lat: campus.Lat, Lon: campus.Lon, AllowedRadiusMeters: Haversine(campus, Position{Lat: campus.Lat + 40.0/111195, Lon: campus.Lon})}
	res = CheckProximity(Position{Lat: campus.Lat + 40.0/111195, Lon: campus.Lon}, exact)
	assert.True(t, res.Allowed)
}

func TestCheckProximityDefaultRadius(t *testing.T) {
	loc := ClassLocation{Lat: campus.Lat, Lon: campus.Lon}
	pos := Position{Lat: campus.Lat + 40.0/111195, Lon: campus.Lon}
	assert.True(t, CheckProximity(pos, loc).Allowed)

	far := Position{Lat: campus.Lat + 60.0/111195, Lon: campus.Lon}
	assert.False(t, CheckProximity(far, loc).Allowed)
}
