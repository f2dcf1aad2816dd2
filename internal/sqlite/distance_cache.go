package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldroute/internal/models"
)

type distanceCacheRepository struct {
	store *Store
}

// Coordinates are stored rounded so that lookups match at ~1m precision
const upsertDistanceSQL = `INSERT INTO distance_cache
	(origin_lat, origin_lng, dest_lat, dest_lng, distance_meters, duration_secs, cached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (origin_lat, origin_lng, dest_lat, dest_lng) DO UPDATE SET
		distance_meters = excluded.distance_meters,
		duration_secs = excluded.duration_secs,
		cached_at = excluded.cached_at`

func pairArgs(origin, dest models.Coordinates) []interface{} {
	return []interface{}{
		models.RoundCoordinate(origin.Lat), models.RoundCoordinate(origin.Lng),
		models.RoundCoordinate(dest.Lat), models.RoundCoordinate(dest.Lng),
	}
}

func upsertArgs(entry models.DistanceCacheEntry) []interface{} {
	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}
	return append(pairArgs(entry.Origin, entry.Destination), entry.DistanceMeters, entry.DurationSecs, formatTime(cachedAt))
}

// Get returns the cached pair, or nil when it is missing or older than the store's max age
func (r *distanceCacheRepository) Get(ctx context.Context, origin, dest models.Coordinates) (*models.DistanceCacheEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var (
		entry    models.DistanceCacheEntry
		cachedAt string
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT origin_lat, origin_lng, dest_lat, dest_lng, distance_meters, duration_secs, cached_at
		FROM distance_cache
		WHERE origin_lat = ? AND origin_lng = ? AND dest_lat = ? AND dest_lng = ?`,
		pairArgs(origin, dest)...,
	).Scan(
		&entry.Origin.Lat, &entry.Origin.Lng,
		&entry.Destination.Lat, &entry.Destination.Lng,
		&entry.DistanceMeters, &entry.DurationSecs, &cachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distance cache entry: %w", err)
	}

	// rows written before cached_at existed have an empty value and never expire
	entry.CachedAt = parseTime(cachedAt)
	if maxAge := r.store.distanceMaxAge; maxAge > 0 && !entry.CachedAt.IsZero() && time.Since(entry.CachedAt) > maxAge {
		return nil, nil
	}
	return &entry, nil
}

func (r *distanceCacheRepository) Set(ctx context.Context, entry *models.DistanceCacheEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.store.db.ExecContext(ctx, upsertDistanceSQL, upsertArgs(*entry)...); err != nil {
		return fmt.Errorf("failed to set distance cache entry: %w", err)
	}
	return nil
}

// SetBatch writes all entries in one transaction
func (r *distanceCacheRepository) SetBatch(ctx context.Context, entries []models.DistanceCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertDistanceSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, upsertArgs(entry)...); err != nil {
			return fmt.Errorf("failed to insert batch entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *distanceCacheRepository) Clear(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.store.db.ExecContext(ctx, "DELETE FROM distance_cache"); err != nil {
		return fmt.Errorf("failed to clear distance cache: %w", err)
	}
	return nil
}

// PruneDistances deletes pairs older than the store's max age and reports how many went
func (s *Store) PruneDistances(ctx context.Context) (int64, error) {
	if s.distanceMaxAge <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT rowid, cached_at FROM distance_cache WHERE cached_at != ''")
	if err != nil {
		return 0, fmt.Errorf("failed to scan distance cache: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var (
			id       int64
			cachedAt string
		)
		if err := rows.Scan(&id, &cachedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan distance cache row: %w", err)
		}
		if t := parseTime(cachedAt); !t.IsZero() && time.Since(t) > s.distanceMaxAge {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM distance_cache WHERE rowid = ?", id); err != nil {
			return 0, fmt.Errorf("failed to prune distance cache: %w", err)
		}
	}
	return int64(len(stale)), nil
}
