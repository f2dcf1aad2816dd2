package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"fieldroute/internal/models"
)

// fileDistanceCacheData is the on-disk layout; entries are written sorted by pair key
type fileDistanceCacheData struct {
	Entries []models.DistanceCacheEntry `json:"entries"`
}

// FileDistanceCache keeps driving distances between rounded coordinate pairs
// in a JSON file. Entries older than maxAge are treated as misses and dropped
// on the next load; a zero maxAge keeps them forever.
type FileDistanceCache struct {
	filePath string
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]models.DistanceCacheEntry
}

// NewFileDistanceCache opens (or creates) the distance cache file at filePath
func NewFileDistanceCache(filePath string, maxAge time.Duration) (*FileDistanceCache, error) {
	log.Printf("[CACHE] Using distance cache file: %s max_age=%v", filePath, maxAge)

	cache := &FileDistanceCache{
		filePath: filePath,
		maxAge:   maxAge,
		now:      time.Now,
		entries:  make(map[string]models.DistanceCacheEntry),
	}

	if err := cache.load(); err != nil {
		return nil, err
	}

	return cache, nil
}

func (c *FileDistanceCache) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveUnlocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var stored fileDistanceCacheData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}

	expired := 0
	for _, entry := range stored.Entries {
		if c.expired(entry) {
			expired++
			continue
		}
		c.entries[pairKey(entry.Origin, entry.Destination)] = entry
	}

	log.Printf("[CACHE] Loaded distance cache: entries=%d expired=%d", len(c.entries), expired)
	if expired > 0 {
		return c.saveUnlocked()
	}
	return nil
}

func (c *FileDistanceCache) expired(entry models.DistanceCacheEntry) bool {
	if c.maxAge <= 0 || entry.CachedAt.IsZero() {
		return false
	}
	return c.now().Sub(entry.CachedAt) > c.maxAge
}

func (c *FileDistanceCache) saveUnlocked() error {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stored := fileDistanceCacheData{Entries: make([]models.DistanceCacheEntry, 0, len(keys))}
	for _, k := range keys {
		stored.Entries = append(stored.Entries, c.entries[k])
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	return writeFileAtomic(c.filePath, data)
}

// Get returns the cached pair or nil when absent or expired
func (c *FileDistanceCache) Get(ctx context.Context, origin, dest models.Coordinates) (*models.DistanceCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[pairKey(origin, dest)]
	if !ok || c.expired(entry) {
		return nil, nil
	}
	return &entry, nil
}

func (c *FileDistanceCache) Set(ctx context.Context, entry *models.DistanceCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putUnlocked(*entry)
	return c.saveUnlocked()
}

// SetBatch stores all entries with a single file write
func (c *FileDistanceCache) SetBatch(ctx context.Context, entries []models.DistanceCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range entries {
		c.putUnlocked(entry)
	}
	return c.saveUnlocked()
}

func (c *FileDistanceCache) putUnlocked(entry models.DistanceCacheEntry) {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.now().UTC()
	}
	c.entries[pairKey(entry.Origin, entry.Destination)] = entry
}

func (c *FileDistanceCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]models.DistanceCacheEntry)
	return c.saveUnlocked()
}

// Count returns the number of cached pairs, expired ones included until the next load
func (c *FileDistanceCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// pairKey identifies a directed pair at ~1m precision
func pairKey(origin, dest models.Coordinates) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f",
		models.RoundCoordinate(origin.Lat), models.RoundCoordinate(origin.Lng),
		models.RoundCoordinate(dest.Lat), models.RoundCoordinate(dest.Lng))
}
