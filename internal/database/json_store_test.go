package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/models"
)

func setupTestJSONStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	dir := t.TempDir()

	cache, err := NewFileDistanceCache(filepath.Join(dir, "distances.json"), 0)
	require.NoError(t, err)

	path := filepath.Join(dir, "data.json")
	store, err := NewJSONStore(path, cache)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func sampleRoute(userID string) *models.Route {
	d := 27.4
	return &models.Route{
		UserID: userID,
		Name:   "Costa occidental",
		Date:   "2026-03-02",
		Stops: []models.RouteStop{
			{Identity: "c1", Name: "Ferretería Lepe", Coords: &models.Coordinates{Lat: 37.25, Lng: -7.20}},
			{Identity: "c2", Name: "Bazar Ayamonte", Coords: &models.Coordinates{Lat: 37.21, Lng: -7.40}, DistanceFromPrevKm: &d},
		},
	}
}

func TestJSONStore_AccessorsAndHealth(t *testing.T) {
	store, _ := setupTestJSONStore(t)

	assert.NotNil(t, store.Routes())
	assert.NotNil(t, store.Drafts())
	assert.NotNil(t, store.DistanceCache())
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestJSONRouteRepository_CreateAssignsIDAndTotals(t *testing.T) {
	store, _ := setupTestJSONStore(t)
	ctx := context.Background()

	created, err := store.Routes().Create(ctx, sampleRoute("ana"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, 1, created.Stops[0].Order)
	assert.Equal(t, 2, created.Stops[1].Order)
	assert.InDelta(t, 27.4, created.TotalDistanceKm, 1e-9)

	got, err := store.Routes().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Len(t, got.Stops, 2)
}

func TestJSONRouteRepository_RequiresUser(t *testing.T) {
	store, _ := setupTestJSONStore(t)

	_, err := store.Routes().Create(context.Background(), sampleRoute(""))
	assert.True(t, errors.Is(err, ErrInvalidRoute))
}

func TestJSONRouteRepository_ListFiltersAndSorts(t *testing.T) {
	store, _ := setupTestJSONStore(t)
	ctx := context.Background()

	older := sampleRoute("ana")
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleRoute("ana")
	newer.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Routes().Create(ctx, older)
	require.NoError(t, err)
	_, err = store.Routes().Create(ctx, newer)
	require.NoError(t, err)
	_, err = store.Routes().Create(ctx, sampleRoute("luis"))
	require.NoError(t, err)

	routes, err := store.Routes().List(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, newer.ID, routes[0].ID)
	assert.Equal(t, older.ID, routes[1].ID)

	all, err := store.Routes().List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJSONRouteRepository_DeleteAndNotFound(t *testing.T) {
	store, _ := setupTestJSONStore(t)
	ctx := context.Background()

	created, err := store.Routes().Create(ctx, sampleRoute("ana"))
	require.NoError(t, err)

	require.NoError(t, store.Routes().Delete(ctx, created.ID))

	_, err = store.Routes().GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Routes().Delete(ctx, created.ID), ErrNotFound)
}

func TestJSONStore_PersistsAcrossReload(t *testing.T) {
	store, path := setupTestJSONStore(t)
	ctx := context.Background()

	created, err := store.Routes().Create(ctx, sampleRoute("ana"))
	require.NoError(t, err)
	require.NoError(t, store.Drafts().Put(ctx, "ana", sampleRoute("ana")))

	reloaded, err := NewJSONStore(path, nil)
	require.NoError(t, err)

	got, err := reloaded.Routes().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Costa occidental", got.Name)

	draft, err := reloaded.Drafts().Get(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Len(t, draft.Stops, 2)
}

func TestJSONDraftRepository(t *testing.T) {
	store, _ := setupTestJSONStore(t)
	ctx := context.Background()

	draft, err := store.Drafts().Get(ctx, "ana")
	require.NoError(t, err)
	assert.Nil(t, draft)

	route := sampleRoute("ana")
	require.NoError(t, store.Drafts().Put(ctx, "ana", route))

	// stored value is a copy
	route.Stops[0].Name = "changed"
	draft, err = store.Drafts().Get(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, "Ferretería Lepe", draft.Stops[0].Name)

	require.NoError(t, store.Drafts().Delete(ctx, "ana"))
	draft, err = store.Drafts().Get(ctx, "ana")
	require.NoError(t, err)
	assert.Nil(t, draft)

	assert.Error(t, store.Drafts().Put(ctx, " ", route))
}
