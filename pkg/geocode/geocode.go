package geocode

import (
	"context"
	"fmt"
	"sync"

	"googlemaps.github.io/maps"
)

// Resolver turns coordinates into a human-readable address.
type Resolver interface {
	ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error)
}

// geocodingAPI is the slice of the Google Maps client the resolver uses.
type geocodingAPI interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleResolver resolves addresses via the Google Maps Geocoding API.
// Results are memoized per rounded coordinate pair, since trackers report
// the same parking spot for many cycles in a row.
type GoogleResolver struct {
	client geocodingAPI

	mu    sync.Mutex
	cache map[string]string
}

// NewGoogleResolver creates a GoogleResolver with the given API key.
func NewGoogleResolver(apiKey string) (*GoogleResolver, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &GoogleResolver{
		client: c,
		cache:  make(map[string]string),
	}, nil
}

// cacheKey rounds to four decimal places, roughly 11 meters, so jitter in
// the GPS fix does not defeat the memoization.
func cacheKey(latitude, longitude float64) string {
	return fmt.Sprintf("%.4f,%.4f", latitude, longitude)
}

// ReverseGeocode resolves the formatted address for the given coordinates.
func (g *GoogleResolver) ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error) {
	key := cacheKey(latitude, longitude)

	g.mu.Lock()
	if address, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return address, nil
	}
	g.mu.Unlock()

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: latitude, Lng: longitude},
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	address := results[0].FormattedAddress

	g.mu.Lock()
	g.cache[key] = address
	g.mu.Unlock()

	return address, nil
}
