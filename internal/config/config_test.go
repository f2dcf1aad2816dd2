package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 28.0, cfg.Declutter.PixelThreshold)
	assert.Equal(t, 5, cfg.Resolver.BatchSize)
	assert.Equal(t, time.Second, cfg.Resolver.BatchDelay)
	assert.Equal(t, "España", cfg.Resolver.DefaultCountry)
	assert.Equal(t, models.EstimateModeOnline, cfg.Distance.Mode)
	assert.Equal(t, 30*24*time.Hour, cfg.Distance.CacheMaxAge)
}

func TestLoadMissingOptionalFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
data_dir: /tmp/fieldroute
server:
  addr: ":9090"
store:
  driver: sqlite
cache:
  backend: sqlite
distance:
  mode: offline
resolver:
  default_country: Portugal
  batch_size: 3
  batch_delay: 250ms
declutter:
  pixel_threshold: 40
  max_radius_px: 80
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fieldroute", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, CacheSQLite, cfg.Cache.Backend)
	assert.Equal(t, models.EstimateModeOffline, cfg.Distance.Mode)
	assert.Equal(t, "Portugal", cfg.Resolver.DefaultCountry)
	assert.Equal(t, 3, cfg.Resolver.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Resolver.BatchDelay)
	assert.Equal(t, 40.0, cfg.Declutter.PixelThreshold)
	assert.Equal(t, 80.0, cfg.Declutter.MaxRadiusPx)
	assert.Equal(t, 18.0, cfg.Declutter.BaseRadiusPx, "unset keys keep defaults")
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocoding.BaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "server: [unterminated")
	_, err := Load(path, true)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "resolver:\n  batch_size: 3\n")
	t.Setenv("FIELDROUTE_BATCH_SIZE", "7")
	t.Setenv("FIELDROUTE_BATCH_DELAY", "2s")
	t.Setenv("FIELDROUTE_DISTANCE_MODE", "OFFLINE")
	t.Setenv("FIELDROUTE_CACHE_BACKEND", "redis")
	t.Setenv("FIELDROUTE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FIELDROUTE_GEOCODE_RATE", "0.5")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Resolver.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Resolver.BatchDelay)
	assert.Equal(t, models.EstimateModeOffline, cfg.Distance.Mode)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, 0.5, cfg.Geocoding.RatePerSecond)
}

func TestEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "FIELDROUTE_DEFAULT_COUNTRY=Francia\nFIELDROUTE_ADDR=:7070\n")
	t.Setenv("FIELDROUTE_ADDR", ":6060")
	// set but empty, so the env file cannot fill it in
	t.Setenv("FIELDROUTE_DEFAULT_COUNTRY", "")

	cfg, err := Load("", false, envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.Server.Addr, "existing variables win over the env file")
	assert.Equal(t, "España", cfg.Resolver.DefaultCountry, "an empty but set variable is not replaced")
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("FIELDROUTE_BATCH_SIZE", "many")
	_, err := Load("", false)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"sqlite cache without sqlite store", func(c *Config) { c.Cache.Backend = CacheSQLite }},
		{"postgres without url", func(c *Config) { c.Cache.Backend = CachePostgres }},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }},
		{"unknown mode", func(c *Config) { c.Distance.Mode = "teleport" }},
		{"zero batch", func(c *Config) { c.Resolver.BatchSize = 0 }},
		{"negative delay", func(c *Config) { c.Resolver.BatchDelay = -time.Second }},
		{"zero rate", func(c *Config) { c.Geocoding.RatePerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
