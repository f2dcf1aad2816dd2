package testutil

import (
	"context"
	"sync"

	"fieldroute/internal/geocoding"
	"fieldroute/internal/models"
)

// MockGeocoder answers from a fixed address table. Unknown addresses fail
// with geocoding.ErrNoResults unless Err is set.
type MockGeocoder struct {
	Results map[string]models.Coordinates
	Errors  map[string]error
	Err     error

	mu      sync.Mutex
	queries []string
}

func NewMockGeocoder() *MockGeocoder {
	return &MockGeocoder{
		Results: make(map[string]models.Coordinates),
		Errors:  make(map[string]error),
	}
}

func (m *MockGeocoder) Geocode(ctx context.Context, address string) (*geocoding.GeocodingResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, address)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.Errors[address]; ok {
		return nil, err
	}
	if c, ok := m.Results[address]; ok {
		return &geocoding.GeocodingResult{Coords: c, DisplayName: address}, nil
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return nil, &geocoding.ErrGeocodingFailed{Address: address, Reason: geocoding.ErrNoResults.Error(), Err: geocoding.ErrNoResults}
}

// Queries returns every address sent, in order
func (m *MockGeocoder) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
