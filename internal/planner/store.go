package planner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"fieldroute/internal/database"
	"fieldroute/internal/models"
)

// Resolver places customers on the map
type Resolver interface {
	ResolveAll(ctx context.Context, customers []models.Customer, keep func(models.StopIdentity) bool) map[models.StopIdentity]*models.Coordinates
	Relocate(ctx context.Context, customers []models.Customer, keep func(models.StopIdentity) bool) map[models.StopIdentity]*models.Coordinates
}

// Estimator computes segment metrics for an ordered list of stops
type Estimator interface {
	EstimateSegments(ctx context.Context, stops []models.RouteStop) (*models.Estimate, error)
}

// Deps are the collaborators shared by every session
type Deps struct {
	Resolver  Resolver
	Estimator Estimator
	Routes    database.RouteRepository
	Drafts    database.DraftRepository
}

// SessionStore manages one planning session per user in memory
type SessionStore struct {
	deps     Deps
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new session store
func NewSessionStore(deps Deps) *SessionStore {
	return &SessionStore{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open returns the user's session, creating it on first use. A persisted
// draft is restored only when the in-memory route is empty.
func (s *SessionStore) Open(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: session requires a user", database.ErrInvalidRoute)
	}

	s.mu.Lock()
	session, ok := s.sessions[userID]
	if !ok {
		session = newSession(userID, s.deps)
		s.sessions[userID] = session
		log.Printf("[SESSION] Created planning session: user=%s", userID)
	}
	s.mu.Unlock()

	if err := session.restoreDraft(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the user's session or nil when none is open
func (s *SessionStore) Get(userID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[userID]
}

// Delete forgets the in-memory session; the draft stays persisted
func (s *SessionStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	log.Printf("[SESSION] Deleted planning session: user=%s", userID)
}

// Len returns the number of open sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
