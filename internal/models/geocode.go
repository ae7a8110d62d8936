// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package models

import "fmt"

// GeocodeResult is a reverse-geocoded place description for a coordinate.
// Produced by the resolver, cached keyed by coordinate bucket.
type GeocodeResult struct {
	Place            string     `json:"place"`
	FormattedAddress string     `json:"formatted_address"`
	Confidence       Confidence `json:"confidence"`

	// Source names the provider that produced this result, or "fallback"
	// for coordinate-derived synthetic results.
	Source string `json:"source"`

	Street     *string `json:"street,omitempty"`
	City       *string `json:"city,omitempty"`
	Region     *string `json:"region,omitempty"`
	Country    *string `json:"country,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`

	// POI is true when the provider classified the place as a
	// point-of-interest or establishment rather than a purely
	// administrative area. POI results win provider reconciliation.
	POI bool `json:"poi"`
}

// FallbackGeocode synthesizes a low-confidence result from raw coordinates.
// Used when every provider fails; a visit must never be dropped for lack of
// an address.
func FallbackGeocode(lat, lon float64) *GeocodeResult {
	coord := fmt.Sprintf("%.5f, %.5f", lat, lon)
	return &GeocodeResult{
		Place:            coord,
		FormattedAddress: coord,
		Confidence:       ConfidenceLow,
		Source:           "fallback",
	}
}
