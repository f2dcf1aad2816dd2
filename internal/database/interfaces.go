package database

import (
	"context"

	"fieldroute/internal/models"
)

// DataStore is the interface for data persistence
type DataStore interface {
	Close() error
	HealthCheck(ctx context.Context) error
	Routes() RouteRepository
	Drafts() DraftRepository
	DistanceCache() DistanceCacheRepository
}

// RouteRepository handles saved route persistence
type RouteRepository interface {
	List(ctx context.Context, userID string) ([]models.Route, error)
	GetByID(ctx context.Context, id string) (*models.Route, error)
	Create(ctx context.Context, route *models.Route) (*models.Route, error)
	Delete(ctx context.Context, id string) error
}

// DraftRepository holds at most one in-progress route per user
type DraftRepository interface {
	Get(ctx context.Context, userID string) (*models.Route, error)
	Put(ctx context.Context, userID string, route *models.Route) error
	Delete(ctx context.Context, userID string) error
}

// DistanceCacheRepository handles distance cache persistence
type DistanceCacheRepository interface {
	Get(ctx context.Context, origin, dest models.Coordinates) (*models.DistanceCacheEntry, error)
	Set(ctx context.Context, entry *models.DistanceCacheEntry) error
	SetBatch(ctx context.Context, entries []models.DistanceCacheEntry) error
	Clear(ctx context.Context) error
}
