package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/models"
)

// JSONData represents the structure of the JSON file
type JSONData struct {
	Routes []models.Route           `json:"routes"`
	Drafts map[string]*models.Route `json:"drafts"`
}

// JSONStore is a JSON file-based data store
type JSONStore struct {
	filePath string
	data     *JSONData
	mu       sync.RWMutex

	routeRepository         RouteRepository
	draftRepository         DraftRepository
	distanceCacheRepository DistanceCacheRepository
}

func (s *JSONStore) Routes() RouteRepository                { return s.routeRepository }
func (s *JSONStore) Drafts() DraftRepository                { return s.draftRepository }
func (s *JSONStore) DistanceCache() DistanceCacheRepository { return s.distanceCacheRepository }

// NewJSONStore creates a new JSON-based data store at filePath
func NewJSONStore(filePath string, distanceCache DistanceCacheRepository) (*JSONStore, error) {
	log.Printf("[JSON] Using data file: %s", filePath)

	store := &JSONStore{
		filePath: filePath,
		data:     &JSONData{},
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	store.routeRepository = &jsonRouteRepository{store: store}
	store.draftRepository = &jsonDraftRepository{store: store}
	store.distanceCacheRepository = distanceCache

	return store, nil
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.data = &JSONData{
			Routes: []models.Route{},
			Drafts: map[string]*models.Route{},
		}
		return s.saveUnlocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	if err := json.Unmarshal(data, s.data); err != nil {
		return fmt.Errorf("failed to parse data file: %w", err)
	}

	if s.data.Routes == nil {
		s.data.Routes = []models.Route{}
	}
	if s.data.Drafts == nil {
		s.data.Drafts = map[string]*models.Route{}
	}

	log.Printf("[JSON] Loaded data: %d routes, %d drafts", len(s.data.Routes), len(s.data.Drafts))
	return nil
}

func (s *JSONStore) saveUnlocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return writeFileAtomic(s.filePath, data)
}

// Close is a no-op for JSON store (data is saved after each operation)
func (s *JSONStore) Close() error {
	return nil
}

// HealthCheck verifies the data file is still reachable
func (s *JSONStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.filePath); err != nil {
		return fmt.Errorf("data file unavailable: %w", err)
	}
	return nil
}

// ==================== Route Repository ====================

type jsonRouteRepository struct {
	store *JSONStore
}

func (r *jsonRouteRepository) List(ctx context.Context, userID string) ([]models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := []models.Route{}
	for i := range r.store.data.Routes {
		if userID == "" || r.store.data.Routes[i].UserID == userID {
			result = append(result, *r.store.data.Routes[i].Clone())
		}
	}

	sortRoutes(result)
	return result, nil
}

func (r *jsonRouteRepository) GetByID(ctx context.Context, id string) (*models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for i := range r.store.data.Routes {
		if r.store.data.Routes[i].ID == id {
			return r.store.data.Routes[i].Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *jsonRouteRepository) Create(ctx context.Context, route *models.Route) (*models.Route, error) {
	if err := prepareRoute(route); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.data.Routes = append(r.store.data.Routes, *route.Clone())

	if err := r.store.saveUnlocked(); err != nil {
		return nil, err
	}

	log.Printf("[JSON] Created route: id=%s user=%s stops=%d", route.ID, route.UserID, len(route.Stops))
	return route, nil
}

func (r *jsonRouteRepository) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.data.Routes {
		if r.store.data.Routes[i].ID == id {
			r.store.data.Routes = append(r.store.data.Routes[:i], r.store.data.Routes[i+1:]...)

			if err := r.store.saveUnlocked(); err != nil {
				return err
			}

			log.Printf("[JSON] Deleted route: id=%s", id)
			return nil
		}
	}

	return ErrNotFound
}

// ==================== Draft Repository ====================

type jsonDraftRepository struct {
	store *JSONStore
}

// Get returns nil, nil when the user has no draft
func (r *jsonDraftRepository) Get(ctx context.Context, userID string) (*models.Route, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.data.Drafts[userID].Clone(), nil
}

func (r *jsonDraftRepository) Put(ctx context.Context, userID string, route *models.Route) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: draft requires a user", ErrInvalidRoute)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.data.Drafts[userID] = route.Clone()
	return r.store.saveUnlocked()
}

func (r *jsonDraftRepository) Delete(ctx context.Context, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.data.Drafts[userID]; !ok {
		return nil
	}
	delete(r.store.data.Drafts, userID)
	return r.store.saveUnlocked()
}

// prepareRoute validates a route before it is stored and fills in ID and creation time
func prepareRoute(route *models.Route) error {
	if route == nil {
		return fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if strings.TrimSpace(route.UserID) == "" {
		return fmt.Errorf("%w: route requires a user", ErrInvalidRoute)
	}
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	route.Renumber()
	route.RecomputeTotals()
	return nil
}

// sortRoutes orders routes newest first
func sortRoutes(routes []models.Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].CreatedAt.After(routes[j].CreatedAt)
	})
}
