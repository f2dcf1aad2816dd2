package sqlite

import (
	"context"
	"fmt"

	"fieldroute/internal/models"
)

// CoordinateBackend stores the coordinate cache in the coordinate_cache table
type CoordinateBackend struct {
	store *Store
}

func (b *CoordinateBackend) Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()

	rows, err := b.store.db.QueryContext(ctx, "SELECT identity, lat, lng, written_at FROM coordinate_cache")
	if err != nil {
		return nil, fmt.Errorf("failed to load coordinate cache: %w", err)
	}
	defer rows.Close()

	entries := make(map[models.StopIdentity]models.CoordinateCacheEntry)
	for rows.Next() {
		var (
			entry     models.CoordinateCacheEntry
			writtenAt string
		)
		if err := rows.Scan(&entry.Identity, &entry.Coords.Lat, &entry.Coords.Lng, &writtenAt); err != nil {
			return nil, fmt.Errorf("failed to scan coordinate: %w", err)
		}
		entry.WrittenAt = parseTime(writtenAt)
		entries[entry.Identity] = entry
	}
	return entries, rows.Err()
}

const upsertCoordinateSQL = "INSERT OR REPLACE INTO coordinate_cache (identity, lat, lng, written_at) VALUES (?, ?, ?, ?)"

func (b *CoordinateBackend) Save(ctx context.Context, entry models.CoordinateCacheEntry) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	_, err := b.store.db.ExecContext(ctx, upsertCoordinateSQL,
		string(entry.Identity), entry.Coords.Lat, entry.Coords.Lng, formatTime(entry.WrittenAt))
	if err != nil {
		return fmt.Errorf("failed to save coordinate: %w", err)
	}
	return nil
}

// SaveMany writes all entries in one transaction
func (b *CoordinateBackend) SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCoordinateSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, string(e.Identity), e.Coords.Lat, e.Coords.Lng, formatTime(e.WrittenAt)); err != nil {
			return fmt.Errorf("failed to save coordinate %s: %w", e.Identity, err)
		}
	}
	return tx.Commit()
}

func (b *CoordinateBackend) Clear(ctx context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if _, err := b.store.db.ExecContext(ctx, "DELETE FROM coordinate_cache"); err != nil {
		return fmt.Errorf("failed to clear coordinate cache: %w", err)
	}
	return nil
}
