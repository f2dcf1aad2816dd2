// Package config loads service settings from an optional YAML file, an
// optional .env file and FIELDROUTE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fieldroute/internal/declutter"
	"fieldroute/internal/models"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FIELDROUTE_"

// Store drivers
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Coordinate cache backends
const (
	CacheFile     = "file"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheRedis    = "redis"
	CacheMemory   = "memory"
)

type Config struct {
	// DataDir holds the JSON store, SQLite database and file caches; empty means ~/.fieldroute
	DataDir   string            `yaml:"data_dir"`
	Server    ServerConfig      `yaml:"server"`
	Store     StoreConfig       `yaml:"store"`
	Cache     CacheConfig       `yaml:"cache"`
	Geocoding GeocodingConfig   `yaml:"geocoding"`
	Distance  DistanceConfig    `yaml:"distance"`
	Resolver  ResolverConfig    `yaml:"resolver"`
	Declutter declutter.Options `yaml:"declutter"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// AllowedOrigins are browser origins allowed besides localhost
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path overrides the default data file or database location
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Backend     string `yaml:"backend"`
	PostgresURL string `yaml:"postgres_url"`
	RedisURL    string `yaml:"redis_url"`
	RedisKey    string `yaml:"redis_key"`
}

type GeocodingConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

type DistanceConfig struct {
	Mode     models.EstimateMode `yaml:"mode"`
	OSRMURL  string              `yaml:"osrm_url"`
	Timeout  time.Duration       `yaml:"timeout"`
	MemoSize int                 `yaml:"memo_size"`
	// CacheMaxAge expires persisted driving distances; zero keeps them forever
	CacheMaxAge time.Duration `yaml:"cache_max_age"`
}

type ResolverConfig struct {
	DefaultCountry string        `yaml:"default_country"`
	BatchSize      int           `yaml:"batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
}

// Default returns the documented defaults for every setting
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreJSON,
		},
		Cache: CacheConfig{
			Backend:  CacheFile,
			RedisKey: "fieldroute:coordinates",
		},
		Geocoding: GeocodingConfig{
			BaseURL:        "https://nominatim.openstreetmap.org",
			UserAgent:      "FieldRoute/1.0",
			RatePerSecond:  1,
			Timeout:        10 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
		},
		Distance: DistanceConfig{
			Mode:        models.EstimateModeOnline,
			OSRMURL:     "https://router.project-osrm.org",
			Timeout:     30 * time.Second,
			MemoSize:    128,
			CacheMaxAge: 30 * 24 * time.Hour,
		},
		Resolver: ResolverConfig{
			DefaultCountry: "España",
			BatchSize:      5,
			BatchDelay:     time.Second,
		},
		Declutter: declutter.DefaultOptions(),
	}
}

// Load builds the configuration. path names a YAML file; an empty path or a
// missing file at the default location is not an error. envFiles are loaded
// with godotenv before the environment overrides are read and never replace
// variables that are already set.
func Load(path string, required bool, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
			log.Printf("[CONFIG] No config file at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			log.Printf("[CONFIG] Loaded config file: %s", path)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("ADDR", &c.Server.Addr)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_PATH", &c.Store.Path)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("POSTGRES_URL", &c.Cache.PostgresURL)
	str("REDIS_URL", &c.Cache.RedisURL)
	str("REDIS_KEY", &c.Cache.RedisKey)
	str("NOMINATIM_URL", &c.Geocoding.BaseURL)
	str("USER_AGENT", &c.Geocoding.UserAgent)
	str("OSRM_URL", &c.Distance.OSRMURL)
	str("DEFAULT_COUNTRY", &c.Resolver.DefaultCountry)

	var mode string
	str("DISTANCE_MODE", &mode)
	if mode != "" {
		c.Distance.Mode = models.EstimateMode(strings.ToLower(mode))
	}

	if err := envInt("BATCH_SIZE", &c.Resolver.BatchSize); err != nil {
		return err
	}
	if err := envInt("GEOCODE_MAX_RETRIES", &c.Geocoding.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("BATCH_DELAY", &c.Resolver.BatchDelay); err != nil {
		return err
	}
	if err := envFloat("GEOCODE_RATE", &c.Geocoding.RatePerSecond); err != nil {
		return err
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = f
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// Validate rejects combinations the service cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Cache.Backend {
	case CacheFile, CacheMemory:
	case CacheSQLite:
		if c.Store.Driver != StoreSQLite {
			return fmt.Errorf("cache backend %q requires store driver %q", CacheSQLite, StoreSQLite)
		}
	case CachePostgres:
		if c.Cache.PostgresURL == "" {
			return fmt.Errorf("cache backend %q requires postgres_url", CachePostgres)
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache backend %q requires redis_url", CacheRedis)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Distance.Mode {
	case models.EstimateModeOnline, models.EstimateModeOffline:
	default:
		return fmt.Errorf("unknown distance mode %q", c.Distance.Mode)
	}

	if c.Resolver.BatchSize < 1 {
		return fmt.Errorf("resolver batch_size must be at least 1, got %d", c.Resolver.BatchSize)
	}
	if c.Resolver.BatchDelay < 0 {
		return fmt.Errorf("resolver batch_delay must not be negative")
	}
	if c.Geocoding.RatePerSecond <= 0 {
		return fmt.Errorf("geocoding rate_per_second must be positive")
	}
	return nil
}
