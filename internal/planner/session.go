package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"fieldroute/internal/distance"
	"fieldroute/internal/models"
	"fieldroute/internal/routing"
)

var (
	// ErrRouteChanged is returned when the route was edited while a result was being computed
	ErrRouteChanged = errors.New("route changed while computing")
	// ErrEmptyRoute is returned when saving a route without stops
	ErrEmptyRoute = errors.New("route has no stops")
)

// Session holds one user's in-progress route. Edits are applied under the
// session lock; resolution and estimation run outside it and their results
// are discarded when the route changed in the meantime.
type Session struct {
	UserID string

	deps       Deps
	mu         sync.Mutex
	route      *models.Route
	customers  map[models.StopIdentity]models.Customer
	generation uint64
	restored   bool
}

// OptimizeResult is the outcome of resolve, sequence and estimate
type OptimizeResult struct {
	Route    *models.Route          `json:"route"`
	Sequence routing.SequenceResult `json:"sequence"`
	Estimate *models.Estimate       `json:"estimate"`
}

func newSession(userID string, deps Deps) *Session {
	return &Session{
		UserID:    userID,
		deps:      deps,
		route:     &models.Route{UserID: userID, Stops: []models.RouteStop{}},
		customers: make(map[models.StopIdentity]models.Customer),
	}
}

// Route returns a copy of the current route
func (s *Session) Route() *models.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route.Clone()
}

func (s *Session) restoreDraft(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.restored || len(s.route.Stops) > 0 || s.deps.Drafts == nil {
		s.restored = true
		return nil
	}
	s.restored = true

	draft, err := s.deps.Drafts.Get(ctx, s.UserID)
	if err != nil {
		return fmt.Errorf("failed to load draft: %w", err)
	}
	if draft == nil {
		return nil
	}

	draft.UserID = s.UserID
	s.route = draft
	for _, stop := range draft.Stops {
		s.customers[stop.Identity] = customerFromStop(stop)
	}
	s.generation++
	log.Printf("[SESSION] Restored draft: user=%s stops=%d", s.UserID, len(draft.Stops))
	return nil
}

// SetCustomers replaces the route with the given customers in the given
// order. Customers carrying valid stored coordinates are placed right away.
func (s *Session) SetCustomers(ctx context.Context, customers []models.Customer) (*models.Route, error) {
	if dup, ok := firstDuplicate(customers); ok {
		return nil, &routing.ErrRouteEditFailed{Op: "set", Reason: string(dup), Err: routing.ErrDuplicateStop}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers = lo.KeyBy(customers, func(c models.Customer) models.StopIdentity { return c.ID })
	s.route.Stops = lo.Map(customers, func(c models.Customer, _ int) models.RouteStop { return stopFromCustomer(c) })
	s.route.Renumber()
	s.route.ClearMetrics()
	s.changedLocked(ctx)
	return s.route.Clone(), nil
}

// AddCustomer appends a customer to the end of the route
func (s *Session) AddCustomer(ctx context.Context, customer models.Customer) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := routing.AddStop(s.route, stopFromCustomer(customer)); err != nil {
		return nil, err
	}
	s.customers[customer.ID] = customer
	s.changedLocked(ctx)
	return s.route.Clone(), nil
}

// RemoveStop drops a stop from the route
func (s *Session) RemoveStop(ctx context.Context, id models.StopIdentity) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := routing.RemoveStop(s.route, id); err != nil {
		return nil, err
	}
	delete(s.customers, id)
	s.changedLocked(ctx)
	return s.route.Clone(), nil
}

// MoveStop moves a stop to a zero-based position
func (s *Session) MoveStop(ctx context.Context, id models.StopIdentity, to int) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := routing.MoveStop(s.route, id, to); err != nil {
		return nil, err
	}
	s.changedLocked(ctx)
	return s.route.Clone(), nil
}

// Resolve places every stop that has no coordinates yet
func (s *Session) Resolve(ctx context.Context) (*models.Route, error) {
	return s.resolve(ctx, false)
}

// Relocate drops every cached coordinate and resolves all stops again
func (s *Session) Relocate(ctx context.Context) (*models.Route, error) {
	return s.resolve(ctx, true)
}

func (s *Session) resolve(ctx context.Context, relocate bool) (*models.Route, error) {
	s.mu.Lock()
	pending := lo.FilterMap(s.route.Stops, func(stop models.RouteStop, _ int) (models.Customer, bool) {
		if !relocate && stop.Coords != nil {
			return models.Customer{}, false
		}
		if c, ok := s.customers[stop.Identity]; ok {
			return c, true
		}
		return customerFromStop(stop), true
	})
	s.mu.Unlock()

	if len(pending) == 0 || s.deps.Resolver == nil {
		return s.Route(), nil
	}

	var results map[models.StopIdentity]*models.Coordinates
	if relocate {
		results = s.deps.Resolver.Relocate(ctx, pending, s.contains)
	} else {
		results = s.deps.Resolver.ResolveAll(ctx, pending, s.contains)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.route.Stops {
		stop := &s.route.Stops[i]
		coords, ok := results[stop.Identity]
		if !ok {
			continue
		}
		if !sameCoords(stop.Coords, coords) {
			stop.Coords = coords
			changed = true
		}
	}

	unresolved := lo.CountBy(s.route.Stops, func(stop models.RouteStop) bool { return stop.Coords == nil })
	log.Printf("[SESSION] Resolved stops: user=%s requested=%d unresolved=%d relocate=%v", s.UserID, len(pending), unresolved, relocate)

	if changed {
		s.route.ClearMetrics()
		s.changedLocked(ctx)
	}
	return s.route.Clone(), ctx.Err()
}

// Optimize resolves the stops, orders them by nearest neighbour from start
// and estimates the segments of the new order
func (s *Session) Optimize(ctx context.Context, start models.Coordinates) (*OptimizeResult, error) {
	if _, err := s.Resolve(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	seq := routing.Sequence(routing.StopsForSequencing(s.route.Stops), start)
	if seq.Optimized {
		if err := routing.ApplyOrder(s.route, seq.Order); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.changedLocked(ctx)
	}
	s.mu.Unlock()

	est, err := s.Estimate(ctx)
	if err != nil {
		return nil, err
	}

	return &OptimizeResult{Route: s.Route(), Sequence: seq, Estimate: est}, nil
}

// Estimate computes segment metrics for the current order and writes them
// onto the route. ErrRouteChanged means an edit landed first; the caller
// should estimate again.
func (s *Session) Estimate(ctx context.Context) (*models.Estimate, error) {
	if s.deps.Estimator == nil {
		return nil, errors.New("no estimator configured")
	}

	s.mu.Lock()
	gen := s.generation
	stops := s.route.Clone().Stops
	s.mu.Unlock()

	est, err := s.deps.Estimator.EstimateSegments(ctx, stops)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		log.Printf("[SESSION] Discarding stale estimate: user=%s", s.UserID)
		return nil, ErrRouteChanged
	}
	if err := distance.Apply(s.route, est); err != nil {
		return nil, err
	}
	s.saveDraftLocked(ctx)
	return est, nil
}

// Save persists the current route under a new ID, clears the draft and
// starts an empty route
func (s *Session) Save(ctx context.Context, name, date, timeOfDay string) (*models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.route.Stops) == 0 {
		return nil, ErrEmptyRoute
	}

	route := s.route.Clone()
	route.ID = uuid.New().String()
	route.UserID = s.UserID
	route.Name = strings.TrimSpace(name)
	route.Date = date
	route.Time = timeOfDay

	saved, err := s.deps.Routes.Create(ctx, route)
	if err != nil {
		return nil, fmt.Errorf("failed to save route: %w", err)
	}

	if s.deps.Drafts != nil {
		if err := s.deps.Drafts.Delete(ctx, s.UserID); err != nil {
			log.Printf("[ERROR] Failed to clear draft after save: user=%s err=%v", s.UserID, err)
		}
	}
	s.resetLocked()
	log.Printf("[SESSION] Saved route: user=%s id=%s stops=%d", s.UserID, saved.ID, len(saved.Stops))
	return saved, nil
}

// Clear empties the route and drops the draft
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	if s.deps.Drafts == nil {
		return nil
	}
	if err := s.deps.Drafts.Delete(ctx, s.UserID); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}

func (s *Session) resetLocked() {
	s.route = &models.Route{UserID: s.UserID, Stops: []models.RouteStop{}}
	s.customers = make(map[models.StopIdentity]models.Customer)
	s.generation++
}

// contains reports whether the stop is still on the route
func (s *Session) contains(id models.StopIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.ContainsBy(s.route.Stops, func(stop models.RouteStop) bool { return stop.Identity == id })
}

func (s *Session) changedLocked(ctx context.Context) {
	s.generation++
	s.saveDraftLocked(ctx)
}

// saveDraftLocked autosaves the route; failures are logged, never returned
func (s *Session) saveDraftLocked(ctx context.Context) {
	if s.deps.Drafts == nil {
		return
	}
	if err := s.deps.Drafts.Put(context.WithoutCancel(ctx), s.UserID, s.route); err != nil {
		log.Printf("[ERROR] Failed to autosave draft: user=%s err=%v", s.UserID, err)
	}
}

func stopFromCustomer(c models.Customer) models.RouteStop {
	stop := models.RouteStop{
		Identity: c.ID,
		Name:     c.Name,
		Location: c.Location,
	}
	if coords, ok := c.StoredCoords(); ok {
		stored := coords
		stop.Coords = &coords
		stop.StoredCoords = &stored
	}
	return stop
}

// customerFromStop rebuilds the customer record a stop was made from,
// including its own coordinates, so a restored draft resolves the same way
func customerFromStop(stop models.RouteStop) models.Customer {
	c := models.Customer{ID: stop.Identity, Name: stop.Name, Location: stop.Location}
	if stop.StoredCoords != nil {
		lat, lng := stop.StoredCoords.Lat, stop.StoredCoords.Lng
		c.Lat, c.Lng = &lat, &lng
	}
	return c
}

func firstDuplicate(customers []models.Customer) (models.StopIdentity, bool) {
	dups := lo.FindDuplicatesBy(customers, func(c models.Customer) models.StopIdentity { return c.ID })
	if len(dups) == 0 {
		return "", false
	}
	return dups[0].ID, true
}

func sameCoords(a, b *models.Coordinates) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
