package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fieldroute/internal/database"

	_ "modernc.org/sqlite"
)

const (
	DefaultDBFileName = "data.db"
	schemaVersion     = 3
)

// Store is a SQLite-based data store implementing database.DataStore
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	distanceMaxAge time.Duration

	routeRepo         database.RouteRepository
	draftRepo         database.DraftRepository
	distanceCacheRepo database.DistanceCacheRepository
	coordinateBackend *CoordinateBackend
}

// Option configures a Store
type Option func(*Store)

// WithDistanceMaxAge makes cached driving distances older than d count as misses
func WithDistanceMaxAge(d time.Duration) Option {
	return func(s *Store) { s.distanceMaxAge = d }
}

// New creates a new SQLite store at the specified path
func New(dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	log.Printf("[SQLITE] Opening database at: %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{
		db: db,
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.routeRepo = &routeRepository{store: store}
	store.draftRepo = &draftRepository{store: store}
	store.distanceCacheRepo = &distanceCacheRepository{store: store}
	store.coordinateBackend = &CoordinateBackend{store: store}

	return store, nil
}

func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		// no schema_version table yet
		return s.createSchema()
	}

	if version < schemaVersion {
		if err := s.runMigrations(version); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT INTO schema_version (version) VALUES (1);

	-- Saved routes, stops kept as a JSON document
	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		route_date TEXT NOT NULL DEFAULT '',
		route_time TEXT NOT NULL DEFAULT '',
		stops TEXT NOT NULL,
		total_distance_km REAL NOT NULL DEFAULT 0,
		total_duration_min REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- One autosaved draft per user
	CREATE TABLE IF NOT EXISTS drafts (
		user_id TEXT PRIMARY KEY,
		route TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS distance_cache (
		origin_lat REAL NOT NULL,
		origin_lng REAL NOT NULL,
		dest_lat REAL NOT NULL,
		dest_lng REAL NOT NULL,
		distance_meters REAL NOT NULL,
		duration_secs REAL NOT NULL,
		PRIMARY KEY (origin_lat, origin_lng, dest_lat, dest_lng)
	);

	CREATE INDEX IF NOT EXISTS idx_routes_user ON routes(user_id, created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.runMigrations(1); err != nil {
		return err
	}

	log.Printf("[SQLITE] Schema initialized (version %d)", schemaVersion)
	return nil
}

func (s *Store) runMigrations(fromVersion int) error {
	if fromVersion < 2 {
		_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS coordinate_cache (
			identity TEXT PRIMARY KEY,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			written_at TEXT NOT NULL
		)`)
		if err != nil {
			return fmt.Errorf("failed to create coordinate_cache: %w", err)
		}
	}

	if fromVersion < 3 {
		if _, err := s.db.Exec(`ALTER TABLE distance_cache ADD COLUMN cached_at TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add distance_cache.cached_at: %w", err)
		}
	}

	_, err := s.db.Exec("UPDATE schema_version SET version = ?", schemaVersion)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		// Checkpoint WAL before closing
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Repository accessors
func (s *Store) Routes() database.RouteRepository                { return s.routeRepo }
func (s *Store) Drafts() database.DraftRepository                { return s.draftRepo }
func (s *Store) DistanceCache() database.DistanceCacheRepository { return s.distanceCacheRepo }

// Coordinates returns the coordinate cache backend living in this database
func (s *Store) Coordinates() *CoordinateBackend { return s.coordinateBackend }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
