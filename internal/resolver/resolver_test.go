package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/geocache"
	"fieldroute/internal/models"
	"fieldroute/internal/resolver"
	"fieldroute/internal/testutil"
)

func newTestResolver(t *testing.T, geocoder *testutil.MockGeocoder, cfg resolver.Config) (*resolver.Resolver, *geocache.Cache) {
	t.Helper()
	cache, err := geocache.New(context.Background(), geocache.NewMemoryBackend())
	require.NoError(t, err)
	return resolver.New(geocoder, cache, nil, cfg), cache
}

func fastConfig() resolver.Config {
	cfg := resolver.DefaultConfig()
	cfg.BatchDelay = 0
	return cfg
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestResolveStoredCoordinatesSeedCache(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	r, cache := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{
		ID:       "c1",
		Location: models.LocationQuery{Street: "Calle Concepción 5", City: "Huelva"},
		Lat:      floatPtr(37.2571),
		Lng:      floatPtr(-6.9495),
	}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, models.Coordinates{Lat: 37.2571, Lng: -6.9495}, *coords)
	assert.Empty(t, geocoder.Queries())

	cached, ok := cache.Get(context.Background(), "c1")
	require.True(t, ok)
	assert.Equal(t, *coords, *cached)
}

func TestResolveZeroStoredCoordinatesIgnored(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Huelva, España"] = models.Coordinates{Lat: 37.26, Lng: -6.94}
	r, _ := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{
		ID:       "c1",
		Location: models.LocationQuery{City: "Huelva"},
		Lat:      floatPtr(0),
		Lng:      floatPtr(0),
	}

	coords := r.Resolve(context.Background(), customer)
	require.NotNil(t, coords)
	assert.Equal(t, 37.26, coords.Lat)
}

func TestResolveCacheIdempotentWithoutNetwork(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Calle Mayor 1, 21440, Lepe, Huelva, España"] = models.Coordinates{Lat: 37.2548, Lng: -7.2037}
	r, _ := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{
		ID: "c1",
		Location: models.LocationQuery{
			Street: "Calle Mayor 1", PostalCode: "21440", City: "Lepe", Province: "Huelva",
		},
	}

	first := r.Resolve(context.Background(), customer)
	require.NotNil(t, first)
	require.Len(t, geocoder.Queries(), 1)

	second := r.Resolve(context.Background(), customer)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Len(t, geocoder.Queries(), 1, "second resolution must come from cache")
}

func TestResolveTierOrder(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Lepe, Huelva, España"] = models.Coordinates{Lat: 37.25, Lng: -7.20}
	r, _ := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{
		ID:       "c1",
		Location: models.LocationQuery{Street: "Calle Inexistente 99", City: "Lepe", Province: "Huelva"},
	}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, models.Coordinates{Lat: 37.25, Lng: -7.20}, *coords)
	assert.Equal(t, []string{
		"Calle Inexistente 99, Lepe, Huelva, España",
		"Lepe, Huelva, España",
	}, geocoder.Queries())
}

func TestResolveTransportErrorFallsThrough(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Errors["Calle Real 3, Ayamonte, España"] = errors.New("connection reset")
	geocoder.Results["Ayamonte, España"] = models.Coordinates{Lat: 37.21, Lng: -7.40}
	r, _ := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{
		ID:       "c1",
		Location: models.LocationQuery{Street: "Calle Real 3", City: "Ayamonte"},
	}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, 37.21, coords.Lat)
}

func TestResolveOutOfRangeResultIsMiss(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Lepe, Huelva, España"] = models.Coordinates{Lat: 137.25, Lng: -7.20}
	r, cache := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{ID: "c1", Location: models.LocationQuery{City: "Lepe", Province: "Huelva"}}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, models.Coordinates{Lat: 37.2548, Lng: -7.2037}, *coords, "falls back to centroid")
	assert.Equal(t, 1, cache.Len())
}

func TestResolveNotFoundFallsBackToCentroid(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	r, cache := newTestResolver(t, geocoder, fastConfig())

	customer := &models.Customer{ID: "c1", Location: models.LocationQuery{City: "Lepe", Province: "Huelva"}}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, models.Coordinates{Lat: 37.2548, Lng: -7.2037}, *coords)
	assert.Equal(t, []string{
		"Lepe, Huelva, España",
		"Huelva, España",
		"Lepe, España",
	}, geocoder.Queries())

	cached, ok := cache.Get(context.Background(), "c1")
	require.True(t, ok)
	assert.Equal(t, *coords, *cached)
}

func TestResolveCentroidFallsBackToProvince(t *testing.T) {
	r, _ := newTestResolver(t, testutil.NewMockGeocoder(), fastConfig())

	customer := &models.Customer{ID: "c1", Location: models.LocationQuery{City: "Pueblo Desconocido", Province: "Cádiz"}}

	coords := r.Resolve(context.Background(), customer)

	require.NotNil(t, coords)
	assert.Equal(t, models.Coordinates{Lat: 36.5271, Lng: -6.2886}, *coords)
}

func TestResolveDoesNotRepeatIdenticalQueries(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	r, _ := newTestResolver(t, geocoder, fastConfig())

	// province only: city_province and province format to the same string
	customer := &models.Customer{ID: "c1", Location: models.LocationQuery{Province: "Atlantis"}}

	coords := r.Resolve(context.Background(), customer)

	assert.Nil(t, coords)
	assert.Equal(t, []string{"Atlantis, España"}, geocoder.Queries())
}

func TestResolveUsesConfiguredDefaultCountry(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	cfg := fastConfig()
	cfg.DefaultCountry = "Portugal"
	r, _ := newTestResolver(t, geocoder, cfg)

	r.Resolve(context.Background(), &models.Customer{ID: "c1", Location: models.LocationQuery{City: "Faro"}})
	r.Resolve(context.Background(), &models.Customer{ID: "c2", Location: models.LocationQuery{City: "Huelva", Country: "España"}})

	queries := geocoder.Queries()
	assert.Contains(t, queries, "Faro, Portugal")
	assert.Contains(t, queries, "Huelva, España")
	assert.NotContains(t, queries, "Huelva, Portugal")
}

func TestResolveUnplaceable(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	r, cache := newTestResolver(t, geocoder, fastConfig())

	assert.Nil(t, r.Resolve(context.Background(), &models.Customer{ID: "empty"}))
	assert.Nil(t, r.Resolve(context.Background(), nil))
	assert.Empty(t, geocoder.Queries())
	assert.Zero(t, cache.Len())
}

func TestResolveWithoutGeocoderUsesCentroids(t *testing.T) {
	cache, err := geocache.New(context.Background(), nil)
	require.NoError(t, err)
	r := resolver.New(nil, cache, nil, fastConfig())

	coords := r.Resolve(context.Background(), &models.Customer{ID: "c1", Location: models.LocationQuery{City: "Sevilla"}})

	require.NotNil(t, coords)
	assert.Equal(t, 37.3891, coords.Lat)
}

func TestResolveAll(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Huelva, España"] = models.Coordinates{Lat: 37.26, Lng: -6.94}
	cfg := fastConfig()
	cfg.BatchSize = 2
	r, _ := newTestResolver(t, geocoder, cfg)

	customers := []models.Customer{
		{ID: "a", Location: models.LocationQuery{City: "Huelva"}},
		{ID: "b", Lat: floatPtr(37.25), Lng: floatPtr(-7.20)},
		{ID: "c", Location: models.LocationQuery{City: "Lepe"}},
		{ID: "d"},
		{ID: "e", Location: models.LocationQuery{City: "Huelva"}},
	}

	results := r.ResolveAll(context.Background(), customers, nil)

	require.Len(t, results, 5)
	assert.Equal(t, 37.26, results["a"].Lat)
	assert.Equal(t, 37.25, results["b"].Lat)
	assert.Equal(t, 37.2548, results["c"].Lat)
	assert.Nil(t, results["d"])
	assert.Equal(t, 37.26, results["e"].Lat)
}

func TestResolveAllDiscardsRejectedIdentities(t *testing.T) {
	r, _ := newTestResolver(t, testutil.NewMockGeocoder(), fastConfig())

	customers := []models.Customer{
		{ID: "keep", Lat: floatPtr(37.25), Lng: floatPtr(-7.20)},
		{ID: "gone", Lat: floatPtr(36.53), Lng: floatPtr(-6.29)},
	}

	results := r.ResolveAll(context.Background(), customers, func(id models.StopIdentity) bool {
		return id != "gone"
	})

	assert.Len(t, results, 1)
	assert.Contains(t, results, models.StopIdentity("keep"))
}

func TestResolveAllDelaysOnlyAfterNetworkBatches(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	cfg := resolver.DefaultConfig()
	cfg.BatchSize = 1
	cfg.BatchDelay = 40 * time.Millisecond
	r, _ := newTestResolver(t, geocoder, cfg)

	stored := []models.Customer{
		{ID: "a", Lat: floatPtr(37.25), Lng: floatPtr(-7.20)},
		{ID: "b", Lat: floatPtr(36.53), Lng: floatPtr(-6.29)},
		{ID: "c", Lat: floatPtr(37.26), Lng: floatPtr(-6.94)},
	}
	start := time.Now()
	r.ResolveAll(context.Background(), stored, nil)
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	networked := []models.Customer{
		{ID: "x", Location: models.LocationQuery{City: "Huelva"}},
		{ID: "y", Location: models.LocationQuery{City: "Lepe"}},
		{ID: "z", Location: models.LocationQuery{City: "Cádiz"}},
	}
	start = time.Now()
	r.ResolveAll(context.Background(), networked, nil)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestResolveAllCancelled(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	r, _ := newTestResolver(t, geocoder, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := r.ResolveAll(ctx, []models.Customer{{ID: "a", Location: models.LocationQuery{City: "Huelva"}}}, nil)

	assert.Empty(t, results)
	assert.Empty(t, geocoder.Queries())
}

func TestRelocateIgnoresCachedValues(t *testing.T) {
	geocoder := testutil.NewMockGeocoder()
	geocoder.Results["Calle Mayor 1, Lepe, España"] = models.Coordinates{Lat: 37.2551, Lng: -7.2040}
	r, cache := newTestResolver(t, geocoder, fastConfig())

	require.NoError(t, cache.Put(context.Background(), "c1", models.Coordinates{Lat: 40.0, Lng: -3.0}))
	customers := []models.Customer{{ID: "c1", Location: models.LocationQuery{Street: "Calle Mayor 1", City: "Lepe"}}}

	before := r.ResolveAll(context.Background(), customers, nil)
	assert.Equal(t, 40.0, before["c1"].Lat)
	assert.Empty(t, geocoder.Queries())

	after := r.Relocate(context.Background(), customers, nil)
	require.NotNil(t, after["c1"])
	assert.Equal(t, 37.2551, after["c1"].Lat)

	cached, ok := cache.Get(context.Background(), "c1")
	require.True(t, ok)
	assert.Equal(t, 37.2551, cached.Lat)
}

func TestResolveAllWritesCacheOncePerBatch(t *testing.T) {
	backend := geocache.NewMemoryBackend()
	cache, err := geocache.New(context.Background(), backend)
	require.NoError(t, err)
	cfg := fastConfig()
	cfg.BatchSize = 2
	r := resolver.New(testutil.NewMockGeocoder(), cache, nil, cfg)

	customers := []models.Customer{
		{ID: "a", Lat: floatPtr(37.25), Lng: floatPtr(-7.20)},
		{ID: "b", Lat: floatPtr(36.53), Lng: floatPtr(-6.29)},
		{ID: "c", Lat: floatPtr(37.26), Lng: floatPtr(-6.94)},
		{ID: "d"},
	}
	r.ResolveAll(context.Background(), customers, nil)

	assert.Equal(t, 3, cache.Len())
	assert.Equal(t, 2, backend.Batches())
	assert.Zero(t, backend.Saves())
}
