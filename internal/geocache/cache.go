package geocache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"fieldroute/internal/metrics"
	"fieldroute/internal/models"
)

// CoordinateCache remembers resolved coordinates per stop identity
type CoordinateCache interface {
	Get(ctx context.Context, id models.StopIdentity) (*models.Coordinates, bool)
	Put(ctx context.Context, id models.StopIdentity, coords models.Coordinates) error
	PutMany(ctx context.Context, coords map[models.StopIdentity]models.Coordinates) error
	InvalidateAll(ctx context.Context) error
	Len() int
}

// Backend is the durable side-store behind the in-memory cache
type Backend interface {
	Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error)
	Save(ctx context.Context, entry models.CoordinateCacheEntry) error
	Clear(ctx context.Context) error
}

// BatchBackend is a Backend that can persist several entries in one write
type BatchBackend interface {
	Backend
	SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error
}

// Cache is an in-memory coordinate map written through to a Backend.
// Entries never expire; the last write for an identity wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[models.StopIdentity]models.CoordinateCacheEntry
	backend Backend
	now     func() time.Time
}

// New creates a cache and loads the backend's entries into memory
func New(ctx context.Context, backend Backend) (*Cache, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}

	entries, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load coordinate cache: %w", err)
	}
	if entries == nil {
		entries = make(map[models.StopIdentity]models.CoordinateCacheEntry)
	}

	log.Printf("[GEOCACHE] Loaded %d coordinate entries", len(entries))
	metrics.CoordinateCacheSize.Set(float64(len(entries)))

	return &Cache{
		entries: entries,
		backend: backend,
		now:     time.Now,
	}, nil
}

func (c *Cache) Get(ctx context.Context, id models.StopIdentity) (*models.Coordinates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	coords := entry.Coords
	return &coords, true
}

// Put stores coords in memory, then in the backend. A backend failure is
// returned but the in-memory value is kept.
func (c *Cache) Put(ctx context.Context, id models.StopIdentity, coords models.Coordinates) error {
	if !coords.Valid() {
		return fmt.Errorf("refusing to cache invalid coordinates for %s: %.6f,%.6f", id, coords.Lat, coords.Lng)
	}

	entry := models.CoordinateCacheEntry{
		Identity:  id,
		Coords:    coords,
		WrittenAt: c.now().UTC(),
	}

	c.mu.Lock()
	c.entries[id] = entry
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CoordinateCacheSize.Set(float64(size))

	if err := c.backend.Save(ctx, entry); err != nil {
		log.Printf("[ERROR] Failed to persist coordinate: id=%s err=%v", id, err)
		return fmt.Errorf("failed to persist coordinate for %s: %w", id, err)
	}
	return nil
}

// PutMany stores a batch of coordinates in memory and hands the valid ones to
// the backend together. Invalid coordinates are skipped and reported.
func (c *Cache) PutMany(ctx context.Context, coords map[models.StopIdentity]models.Coordinates) error {
	if len(coords) == 0 {
		return nil
	}

	now := c.now().UTC()
	entries := make([]models.CoordinateCacheEntry, 0, len(coords))
	var invalid []models.StopIdentity
	for id, cc := range coords {
		if !cc.Valid() {
			invalid = append(invalid, id)
			continue
		}
		entries = append(entries, models.CoordinateCacheEntry{Identity: id, Coords: cc, WrittenAt: now})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })

	c.mu.Lock()
	for _, e := range entries {
		c.entries[e.Identity] = e
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CoordinateCacheSize.Set(float64(size))

	var err error
	if batch, ok := c.backend.(BatchBackend); ok {
		err = batch.SaveMany(ctx, entries)
	} else {
		for _, e := range entries {
			if err = c.backend.Save(ctx, e); err != nil {
				break
			}
		}
	}
	if err != nil {
		log.Printf("[ERROR] Failed to persist coordinates: count=%d err=%v", len(entries), err)
		return fmt.Errorf("failed to persist %d coordinates: %w", len(entries), err)
	}
	if len(invalid) > 0 {
		return fmt.Errorf("refused to cache invalid coordinates for %v", invalid)
	}
	return nil
}

// InvalidateAll drops every entry from memory and the backend
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[models.StopIdentity]models.CoordinateCacheEntry)
	c.mu.Unlock()

	metrics.CoordinateCacheSize.Set(0)
	log.Printf("[GEOCACHE] Invalidated %d coordinate entries", dropped)

	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear coordinate backend: %w", err)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
