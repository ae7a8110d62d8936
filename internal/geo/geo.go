// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package geo provides the spherical geometry primitives shared by the
// classifier, visit engine and geocoding resolver.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for all distance conversions.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Point is a plain latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Centroid returns the spherical centroid of the given points.
// Averaging raw degrees breaks near the antimeridian, so points are summed as
// unit vectors and converted back. Returns the zero Point for empty input.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sum s2.Point
	for _, p := range points {
		v := s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
		sum.X += v.X
		sum.Y += v.Y
		sum.Z += v.Z
	}

	norm := math.Sqrt(sum.X*sum.X + sum.Y*sum.Y + sum.Z*sum.Z)
	if norm == 0 {
		return Point{}
	}
	sum.X /= norm
	sum.Y /= norm
	sum.Z /= norm

	ll := s2.LatLngFromPoint(sum)
	return Point{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}

// BucketKey rounds a coordinate to four decimal places (~11m at the equator)
// and formats it as a stable cache key, e.g. "10.7625,106.6602".
func BucketKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", roundTo(lat, 4), roundTo(lon, 4))
}

// SpeedKmh converts a distance in meters covered over the given seconds to km/h.
// Returns 0 for non-positive time deltas.
func SpeedKmh(distanceMeters, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return distanceMeters / seconds * 3.6
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
