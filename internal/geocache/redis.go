package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"fieldroute/internal/models"
)

// DefaultRedisKey is the hash holding one field per stop identity
const DefaultRedisKey = "fieldroute:coordinates"

// RedisBackend stores entries as JSON values in a single Redis hash
type RedisBackend struct {
	rdb *redis.Client
	key string
}

// NewRedisBackend connects to the server named by a redis:// URL
func NewRedisBackend(url, key string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisBackendFromClient(redis.NewClient(opt), key), nil
}

func NewRedisBackendFromClient(rdb *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{rdb: rdb, key: key}
}

func (b *RedisBackend) Load(ctx context.Context) (map[models.StopIdentity]models.CoordinateCacheEntry, error) {
	fields, err := b.rdb.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinate hash: %w", err)
	}

	entries := make(map[models.StopIdentity]models.CoordinateCacheEntry, len(fields))
	for field, raw := range fields {
		var entry models.CoordinateCacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Printf("[GEOCACHE] Skipping corrupt redis entry: id=%s err=%v", field, err)
			continue
		}
		entry.Identity = models.StopIdentity(field)
		entries[entry.Identity] = entry
	}
	return entries, nil
}

func (b *RedisBackend) Save(ctx context.Context, entry models.CoordinateCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.rdb.HSet(ctx, b.key, string(entry.Identity), data).Err()
}

// SaveMany writes every entry with a single HSET
func (b *RedisBackend) SaveMany(ctx context.Context, entries []models.CoordinateCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, 2*len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		values = append(values, string(entry.Identity), data)
	}
	return b.rdb.HSet(ctx, b.key, values...).Err()
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	return b.rdb.Del(ctx, b.key).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
