// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/huyhuyhuy8s/journee-tracking/internal/models"
)

// Provider defines the interface for reverse-geocoding services.
type Provider interface {
	// ReverseGeocode returns place information for the coordinates.
	ReverseGeocode(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// poiCategories are OSM top-level categories that describe a concrete
// establishment rather than an administrative area.
var poiCategories = map[string]bool{
	"amenity":  true,
	"shop":     true,
	"tourism":  true,
	"leisure":  true,
	"office":   true,
	"craft":    true,
	"historic": true,
	"building": true,
}

// ========================================
// Nominatim (OpenStreetMap) provider
// ========================================

// NominatimProvider implements Provider using the OSM Nominatim reverse
// endpoint. The public instance allows at most one request per second,
// enforced here with a client-side limiter.
type NominatimProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// nominatimResponse is the subset of the jsonv2 reverse response we use.
type nominatimResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Address     struct {
		Road     string `json:"road"`
		Suburb   string `json:"suburb"`
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		State    string `json:"state"`
		Country  string `json:"country"`
		Postcode string `json:"postcode"`
	} `json:"address"`
	Error string `json:"error"`
}

func NewNominatimProvider(baseURL string, limiter *rate.Limiter, timeout time.Duration) *NominatimProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
	}
}

func (p *NominatimProvider) Name() string { return "nominatim" }

func (p *NominatimProvider) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("nominatim rate limiter: %w", err)
		}
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	endpoint := fmt.Sprintf("%s/reverse?%s", p.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", "journee-tracking/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("nominatim: %s", body.Error)
	}

	poi := poiCategories[body.Category]
	place := body.Name
	if place == "" {
		place = firstNonEmpty(body.Address.Road, body.Address.Suburb, cityOf(body), body.Address.State)
	}
	if place == "" {
		return nil, fmt.Errorf("nominatim returned no usable place")
	}

	confidence := models.ConfidenceMedium
	if poi {
		confidence = models.ConfidenceHigh
	}

	result := &models.GeocodeResult{
		Place:            place,
		FormattedAddress: body.DisplayName,
		Confidence:       confidence,
		Source:           p.Name(),
		POI:              poi,
	}
	setOptional(&result.Street, body.Address.Road)
	setOptional(&result.City, cityOf(body))
	setOptional(&result.Region, body.Address.State)
	setOptional(&result.Country, body.Address.Country)
	setOptional(&result.PostalCode, body.Address.Postcode)
	return result, nil
}

func cityOf(r nominatimResponse) string {
	return firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village)
}

// ========================================
// BigDataCloud provider
// ========================================

// BigDataCloudProvider implements Provider using the free BigDataCloud
// client reverse-geocode endpoint. It resolves to locality level only,
// so its results never carry POI detail.
type BigDataCloudProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

type bigDataCloudResponse struct {
	Locality             string  `json:"locality"`
	City                 string  `json:"city"`
	PrincipalSubdivision string  `json:"principalSubdivision"`
	CountryName          string  `json:"countryName"`
	Postcode             string  `json:"postcode"`
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
}

func NewBigDataCloudProvider(baseURL string, limiter *rate.Limiter, timeout time.Duration) *BigDataCloudProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BigDataCloudProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
	}
}

func (p *BigDataCloudProvider) Name() string { return "bigdatacloud" }

func (p *BigDataCloudProvider) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("bigdatacloud rate limiter: %w", err)
		}
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.6f", lat))
	q.Set("longitude", fmt.Sprintf("%.6f", lon))
	q.Set("localityLanguage", "en")
	endpoint := fmt.Sprintf("%s/data/reverse-geocode-client?%s", p.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create bigdatacloud request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bigdatacloud request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bigdatacloud returned status %d", resp.StatusCode)
	}

	var body bigDataCloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bigdatacloud response: %w", err)
	}

	place := firstNonEmpty(body.Locality, body.City, body.PrincipalSubdivision)
	if place == "" {
		return nil, fmt.Errorf("bigdatacloud returned no usable place")
	}

	parts := make([]string, 0, 4)
	for _, s := range []string{place, body.City, body.PrincipalSubdivision, body.CountryName} {
		if s != "" && (len(parts) == 0 || parts[len(parts)-1] != s) {
			parts = append(parts, s)
		}
	}

	result := &models.GeocodeResult{
		Place:            place,
		FormattedAddress: strings.Join(parts, ", "),
		Confidence:       models.ConfidenceMedium,
		Source:           p.Name(),
		POI:              false,
	}
	setOptional(&result.City, body.City)
	setOptional(&result.Region, body.PrincipalSubdivision)
	setOptional(&result.Country, body.CountryName)
	setOptional(&result.PostalCode, body.Postcode)
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setOptional(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}
