package geocache

import (
	"context"
	"sync"

	"fieldroute/internal/models"
)

// MemoryBackend keeps entries only for the life of the process
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[models.StopIdentity]models.CoordinateCacheEntry
	saves   int
	batches int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[models.StopIdentity]models.CoordinateCacheEntry)}
}

func (b *MemoryBackend) Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[models.StopIdentity]models.CoordinateCacheEntry, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBackend) Save(ctx context.Context, entry models.CoordinateCacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Identity] = entry
	b.saves++
	return nil
}

func (b *MemoryBackend) SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.entries[e.Identity] = e
	}
	b.batches++
	return nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[models.StopIdentity]models.CoordinateCacheEntry)
	return nil
}

// Saves reports how many writes reached the backend
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Batches reports how many batch writes reached the backend
func (b *MemoryBackend) Batches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}
