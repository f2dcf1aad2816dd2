package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/geocache"
	"fieldroute/internal/models"
)

var _ geocache.BatchBackend = (*CoordinateBackend)(nil)

func setupTestBackend(t *testing.T) *CoordinateBackend {
	t.Helper()
	url := os.Getenv("FIELDROUTE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FIELDROUTE_TEST_DATABASE_URL not set")
	}

	db, err := Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := NewCoordinateBackend(db)
	ctx := context.Background()
	require.NoError(t, backend.Migrate(ctx))
	require.NoError(t, backend.Clear(ctx))
	return backend
}

func TestCoordinateBackendRoundTrip(t *testing.T) {
	backend := setupTestBackend(t)
	ctx := context.Background()

	written := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, backend.Save(ctx, models.CoordinateCacheEntry{Identity: "c1", Coords: models.Coordinates{Lat: 37.26, Lng: -6.94}, WrittenAt: written}))
	require.NoError(t, backend.Save(ctx, models.CoordinateCacheEntry{Identity: "c1", Coords: models.Coordinates{Lat: 37.27, Lng: -6.95}, WrittenAt: written}))
	require.NoError(t, backend.SaveMany(ctx, []models.CoordinateCacheEntry{
		{Identity: "c2", Coords: models.Coordinates{Lat: 36.53, Lng: -6.29}, WrittenAt: written},
	}))

	entries, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 37.27, entries["c1"].Coords.Lat)
	assert.True(t, written.Equal(entries["c2"].WrittenAt))

	require.NoError(t, backend.Clear(ctx))
	entries, err = backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCoordinateBackendNilDB(t *testing.T) {
	backend := NewCoordinateBackend(nil)
	ctx := context.Background()

	_, err := backend.Load(ctx)
	assert.Error(t, err)
	assert.Error(t, backend.Save(ctx, models.CoordinateCacheEntry{}))
	assert.Error(t, backend.Clear(ctx))
	assert.Error(t, backend.Migrate(ctx))
}

func TestOpenInvalidURL(t *testing.T) {
	_, err := Open("postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	assert.Error(t, err)
}
