// Package geocode optionally enriches a cluster's centroid with a
// human-readable nearest address via the Google Maps reverse-geocoding API.
// It is disabled unless an API key is configured, and failures are
// advisory only: a geocode error never blocks a cluster query.
package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/tarekm28/ouajourad/pkg/logx"
)

// Enricher resolves lat/lon centroids to a nearest-address string.
type Enricher struct {
	client *maps.Client
	logger *logx.Logger
}

// New builds an Enricher, or nil if apiKey is empty (the feature is
// opt-in).
func New(apiKey string, logger *logx.Logger) (*Enricher, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("geocode: create client: %w", err)
	}

	return &Enricher{client: client, logger: logger}, nil
}

// NearestAddress returns the best-formatted address for a coordinate. On
// any API error it logs a warning and returns an empty string rather than
// failing the caller.
func (e *Enricher) NearestAddress(ctx context.Context, lat, lon float64) string {
	if e == nil || e.client == nil {
		return ""
	}

	req := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lon},
	}

	results, err := e.client.ReverseGeocode(ctx, req)
	if err != nil {
		e.logger.Warn("reverse_geocode_failed", "lat", lat, "lon", lon, "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	return results[0].FormattedAddress
}
