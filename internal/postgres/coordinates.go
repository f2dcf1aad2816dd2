package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldroute/internal/models"
)

// Open connects to Postgres through pgx's database/sql driver
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}

	return db, nil
}

// CoordinateBackend keeps the coordinate cache in a shared Postgres table so a
// whole sales team resolves each customer once
type CoordinateBackend struct {
	DB *sql.DB
}

func NewCoordinateBackend(db *sql.DB) *CoordinateBackend {
	return &CoordinateBackend{DB: db}
}

// Migrate creates the coordinate_cache table if missing
func (b *CoordinateBackend) Migrate(ctx context.Context) error {
	if b.DB == nil {
		return errors.New("coordinate cache: db is nil")
	}

	_, err := b.DB.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS coordinate_cache (
		identity   TEXT PRIMARY KEY,
		lat        DOUBLE PRECISION NOT NULL,
		lng        DOUBLE PRECISION NOT NULL,
		written_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	if err != nil {
		return fmt.Errorf("coordinate cache: create table: %w", err)
	}

	log.Printf("[POSTGRES] coordinate_cache table ready")
	return nil
}

func (b *CoordinateBackend) Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error) {
	if b.DB == nil {
		return nil, errors.New("coordinate cache: db is nil")
	}

	rows, err := b.DB.QueryContext(ctx, `SELECT identity, lat, lng, written_at FROM coordinate_cache`)
	if err != nil {
		return nil, fmt.Errorf("load coordinate cache: query: %w", err)
	}
	defer rows.Close()

	out := make(map[models.StopIdentity]models.CoordinateCacheEntry)
	for rows.Next() {
		var (
			id    string
			entry models.CoordinateCacheEntry
		)
		if err := rows.Scan(&id, &entry.Coords.Lat, &entry.Coords.Lng, &entry.WrittenAt); err != nil {
			return nil, fmt.Errorf("load coordinate cache: scan rows: %w", err)
		}
		entry.Identity = models.StopIdentity(id)
		out[entry.Identity] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load coordinate cache: row iteration: %w", err)
	}

	return out, nil
}

func (b *CoordinateBackend) Save(ctx context.Context, entry models.CoordinateCacheEntry) error {
	if b.DB == nil {
		return errors.New("coordinate cache: db is nil")
	}

	_, err := b.DB.ExecContext(ctx, `
	INSERT INTO coordinate_cache (identity, lat, lng, written_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (identity) DO UPDATE
	SET lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		written_at = EXCLUDED.written_at;
	`, string(entry.Identity), entry.Coords.Lat, entry.Coords.Lng, entry.WrittenAt)
	if err != nil {
		return fmt.Errorf("save coordinate id=%q: %w", entry.Identity, err)
	}
	return nil
}

// SaveMany upserts entries in one transaction; the coordinate cache uses it to
// flush each resolver batch
func (b *CoordinateBackend) SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error {
	if b.DB == nil {
		return errors.New("coordinate cache: db is nil")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save coordinates: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO coordinate_cache (identity, lat, lng, written_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (identity) DO UPDATE
	SET lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		written_at = EXCLUDED.written_at;
	`)
	if err != nil {
		return fmt.Errorf("save coordinates: db prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, string(e.Identity), e.Coords.Lat, e.Coords.Lng, e.WrittenAt); err != nil {
			return fmt.Errorf("save coordinates id=%q: %w", e.Identity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save coordinates commit: %w", err)
	}
	return nil
}

func (b *CoordinateBackend) Clear(ctx context.Context) error {
	if b.DB == nil {
		return errors.New("coordinate cache: db is nil")
	}
	if _, err := b.DB.ExecContext(ctx, `DELETE FROM coordinate_cache`); err != nil {
		return fmt.Errorf("clear coordinate cache: %w", err)
	}
	return nil
}
