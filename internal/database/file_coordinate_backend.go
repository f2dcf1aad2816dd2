package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"fieldroute/internal/models"
)

// FileCoordinateBackend persists the coordinate cache as one JSON document,
// rewritten atomically on every write
type FileCoordinateBackend struct {
	filePath string
	mu       sync.Mutex
	entries  map[models.StopIdentity]models.CoordinateCacheEntry
}

type fileCoordinateData struct {
	Entries []models.CoordinateCacheEntry `json:"entries"`
}

// NewFileCoordinateBackend creates a backend stored at filePath
func NewFileCoordinateBackend(filePath string) *FileCoordinateBackend {
	log.Printf("[CACHE] Using coordinate cache file: %s", filePath)
	return &FileCoordinateBackend{
		filePath: filePath,
		entries:  make(map[models.StopIdentity]models.CoordinateCacheEntry),
	}
}

func (b *FileCoordinateBackend) Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(b.filePath)
	if os.IsNotExist(err) {
		return map[models.StopIdentity]models.CoordinateCacheEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinate cache file: %w", err)
	}

	var data fileCoordinateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse coordinate cache file: %w", err)
	}

	b.entries = make(map[models.StopIdentity]models.CoordinateCacheEntry, len(data.Entries))
	for _, e := range data.Entries {
		b.entries[e.Identity] = e
	}

	out := make(map[models.StopIdentity]models.CoordinateCacheEntry, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out, nil
}

func (b *FileCoordinateBackend) Save(ctx context.Context, entry models.CoordinateCacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[entry.Identity] = entry
	return b.saveUnlocked()
}

// SaveMany applies all entries with one file rewrite
func (b *FileCoordinateBackend) SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range entries {
		b.entries[e.Identity] = e
	}
	return b.saveUnlocked()
}

func (b *FileCoordinateBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[models.StopIdentity]models.CoordinateCacheEntry)
	return b.saveUnlocked()
}

func (b *FileCoordinateBackend) saveUnlocked() error {
	data := fileCoordinateData{Entries: make([]models.CoordinateCacheEntry, 0, len(b.entries))}
	for _, e := range b.entries {
		data.Entries = append(data.Entries, e)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coordinate cache: %w", err)
	}
	return writeFileAtomic(b.filePath, raw)
}
