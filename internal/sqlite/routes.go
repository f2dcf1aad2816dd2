package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/database"
	"fieldroute/internal/models"
)

type routeRepository struct {
	store *Store
}

const selectRouteSQL = `SELECT id, user_id, name, route_date, route_time, stops,
	total_distance_km, total_duration_min, created_at FROM routes`

func scanRoute(row interface{ Scan(...any) error }) (*models.Route, error) {
	var (
		route     models.Route
		stopsJSON string
		createdAt string
	)
	if err := row.Scan(&route.ID, &route.UserID, &route.Name, &route.Date, &route.Time, &stopsJSON,
		&route.TotalDistanceKm, &route.TotalDurationMin, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stopsJSON), &route.Stops); err != nil {
		return nil, fmt.Errorf("failed to decode stops for route %s: %w", route.ID, err)
	}
	route.CreatedAt = parseTime(createdAt)
	return &route, nil
}

func (r *routeRepository) List(ctx context.Context, userID string) ([]models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := selectRouteSQL + ` ORDER BY created_at DESC`
	args := []any{}
	if userID != "" {
		query = selectRouteSQL + ` WHERE user_id = ? ORDER BY created_at DESC`
		args = append(args, userID)
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	routes := []models.Route{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, *route)
	}
	return routes, rows.Err()
}

func (r *routeRepository) GetByID(ctx context.Context, id string) (*models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	route, err := scanRoute(r.store.db.QueryRowContext(ctx, selectRouteSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return route, nil
}

func (r *routeRepository) Create(ctx context.Context, route *models.Route) (*models.Route, error) {
	if route == nil || strings.TrimSpace(route.UserID) == "" {
		return nil, fmt.Errorf("%w: route requires a user", database.ErrInvalidRoute)
	}
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	route.Renumber()
	route.RecomputeTotals()

	stops, err := json.Marshal(route.Stops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stops: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err = r.store.db.ExecContext(ctx, `INSERT INTO routes
		(id, user_id, name, route_date, route_time, stops, total_distance_km, total_duration_min, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		route.ID, route.UserID, route.Name, route.Date, route.Time, string(stops),
		route.TotalDistanceKm, route.TotalDurationMin, formatTime(route.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert route: %w", err)
	}

	log.Printf("[SQLITE] Created route: id=%s user=%s stops=%d", route.ID, route.UserID, len(route.Stops))
	return route, nil
}

func (r *routeRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	res, err := r.store.db.ExecContext(ctx, "DELETE FROM routes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}

	log.Printf("[SQLITE] Deleted route: id=%s", id)
	return nil
}

type draftRepository struct {
	store *Store
}

// Get returns nil, nil when the user has no draft
func (r *draftRepository) Get(ctx context.Context, userID string) (*models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var raw string
	err := r.store.db.QueryRowContext(ctx, "SELECT route FROM drafts WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	var route models.Route
	if err := json.Unmarshal([]byte(raw), &route); err != nil {
		return nil, fmt.Errorf("failed to decode draft for %s: %w", userID, err)
	}
	return &route, nil
}

func (r *draftRepository) Put(ctx context.Context, userID string, route *models.Route) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: draft requires a user", database.ErrInvalidRoute)
	}

	raw, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err = r.store.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO drafts (user_id, route, updated_at) VALUES (?, ?, ?)",
		userID, string(raw), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (r *draftRepository) Delete(ctx context.Context, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.store.db.ExecContext(ctx, "DELETE FROM drafts WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}
