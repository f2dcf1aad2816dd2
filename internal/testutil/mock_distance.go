package testutil

import (
	"context"
	"fmt"
	"math"
	"sync"

	"fieldroute/internal/distance"
	"fieldroute/internal/models"
)

// DistanceCall tracks a call to the distance calculator
type DistanceCall struct {
	Origin models.Coordinates
	Dest   models.Coordinates
}

// MockDistanceCalculator is a mock implementation for testing.
// It calculates Euclidean distance (scaled) between coordinates for deterministic tests.
type MockDistanceCalculator struct {
	ScaleFactor float64
	Overrides   map[string]*distance.DistanceResult
	Errors      map[string]error
	// Err, when set, is returned for every pair without an override
	Err error

	mu    sync.Mutex
	calls []DistanceCall
}

func NewMockDistanceCalculator() *MockDistanceCalculator {
	return &MockDistanceCalculator{
		ScaleFactor: 111000, // 1 degree ≈ 111km in meters
		Overrides:   make(map[string]*distance.DistanceResult),
		Errors:      make(map[string]error),
	}
}

func makeKey(origin, dest models.Coordinates) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f",
		models.RoundCoordinate(origin.Lat), models.RoundCoordinate(origin.Lng),
		models.RoundCoordinate(dest.Lat), models.RoundCoordinate(dest.Lng))
}

// SetDistance sets a custom distance for a specific origin-destination pair
func (m *MockDistanceCalculator) SetDistance(origin, dest models.Coordinates, distMeters, durSecs float64) {
	m.Overrides[makeKey(origin, dest)] = &distance.DistanceResult{
		DistanceMeters: distMeters,
		DurationSecs:   durSecs,
	}
}

// SetError makes a specific origin-destination pair fail
func (m *MockDistanceCalculator) SetError(origin, dest models.Coordinates, err error) {
	m.Errors[makeKey(origin, dest)] = err
}

// GetDistance returns the distance between two points
func (m *MockDistanceCalculator) GetDistance(ctx context.Context, origin, dest models.Coordinates) (*distance.DistanceResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, DistanceCall{Origin: origin, Dest: dest})
	m.mu.Unlock()

	key := makeKey(origin, dest)
	if err, ok := m.Errors[key]; ok {
		return nil, err
	}
	if override, ok := m.Overrides[key]; ok {
		return override, nil
	}
	if m.Err != nil {
		return nil, m.Err
	}

	dLat := dest.Lat - origin.Lat
	dLng := dest.Lng - origin.Lng
	dist := math.Sqrt(dLat*dLat+dLng*dLng) * m.ScaleFactor
	// assume an average speed of 50 km/h
	dur := dist / 50000 * 3600

	return &distance.DistanceResult{
		DistanceMeters: dist,
		DurationSecs:   dur,
	}, nil
}

// Calls returns a copy of the recorded calls
func (m *MockDistanceCalculator) Calls() []DistanceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DistanceCall(nil), m.calls...)
}

// ResetCalls clears the recorded calls
func (m *MockDistanceCalculator) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockDistanceCache is an in-memory DistanceCacheRepository for testing
type MockDistanceCache struct {
	mu      sync.Mutex
	entries map[string]*models.DistanceCacheEntry
}

func NewMockDistanceCache() *MockDistanceCache {
	return &MockDistanceCache{
		entries: make(map[string]*models.DistanceCacheEntry),
	}
}

func (c *MockDistanceCache) Get(ctx context.Context, origin, dest models.Coordinates) (*models.DistanceCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[makeKey(origin, dest)]; ok {
		e := *entry
		return &e, nil
	}
	return nil, nil
}

func (c *MockDistanceCache) Set(ctx context.Context, entry *models.DistanceCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := *entry
	c.entries[makeKey(entry.Origin, entry.Destination)] = &e
	return nil
}

func (c *MockDistanceCache) SetBatch(ctx context.Context, entries []models.DistanceCacheEntry) error {
	for i := range entries {
		c.Set(ctx, &entries[i])
	}
	return nil
}

func (c *MockDistanceCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*models.DistanceCacheEntry)
	return nil
}

// Count returns the number of entries in the cache
func (c *MockDistanceCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
