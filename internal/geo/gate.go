package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// earthRadiusMeters is the mean earth radius used by the spherical approximation.
const earthRadiusMeters = 6371000

// DefaultRadiusMeters is the allowed distance from a class location when the
// class config does not set one.
const DefaultRadiusMeters = 50

// Position is a device fix in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ClassLocation is the configured location a class takes attendance at.
// Read-only here; it belongs to the roster store.
type ClassLocation struct {
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	AllowedRadiusMeters float64 `json:"allowed_radius_meters"`
}

// Proximity is the result of a gate check.
type Proximity struct {
	Allowed        bool    `json:"allowed"`
	DistanceMeters float64 `json:"distance_meters"`
}

var (
	// ErrLocationUnavailable means the device could not produce a fix.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrLocationDenied means the user refused the location permission.
	ErrLocationDenied = errors.New("location permission denied")
)

// OutOfRangeError reports a gate check that failed on distance.
type OutOfRangeError struct {
	DistanceMeters float64
	AllowedMeters  float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.0fm from class (allowed %.0fm)", e.DistanceMeters, e.AllowedMeters)
}

// Source produces a single-shot position fix. Implementations map device
// failures onto ErrLocationUnavailable / ErrLocationDenied.
type Source interface {
	Current(ctx context.Context) (Position, error)
}

// Haversine returns the great-circle distance between two positions in meters.
func Haversine(a, b Position) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// CheckProximity decides whether pos is close enough to loc. The comparison is
// inclusive and unrounded; round for display only.
func CheckProximity(pos Position, loc ClassLocation) Proximity {
	radius := loc.AllowedRadiusMeters
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	d := Haversine(pos, Position{Lat: loc.Lat, Lon: loc.Lon})
	return Proximity{Allowed: d <= radius, DistanceMeters: d}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
