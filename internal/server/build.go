package server

import (
	"context"
	"fmt"
	"io"
	"log"

	"fieldroute/internal/config"
	"fieldroute/internal/database"
	"fieldroute/internal/distance"
	"fieldroute/internal/geocache"
	"fieldroute/internal/geocoding"
	"fieldroute/internal/handlers"
	"fieldroute/internal/metrics"
	"fieldroute/internal/models"
	"fieldroute/internal/planner"
	"fieldroute/internal/postgres"
	"fieldroute/internal/resolver"
	"fieldroute/internal/sqlite"
)

// App is a server together with the resources it owns
type App struct {
	*Server
	closers []io.Closer
}

// Build assembles stores, caches, clients and the HTTP server from cfg
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	appDir, err := database.GetAppDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	app := &App{}
	fail := func(err error) (*App, error) {
		app.closeAll()
		return nil, err
	}

	log.Printf("Initializing data store: driver=%s", cfg.Store.Driver)
	store, sqliteStore, err := openStore(ctx, cfg, appDir)
	if err != nil {
		return fail(err)
	}

	log.Printf("Initializing coordinate cache: backend=%s", cfg.Cache.Backend)
	backend, closer, err := openCoordinateBackend(ctx, cfg, appDir, sqliteStore)
	if err != nil {
		store.Close()
		return fail(err)
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	cache, err := geocache.New(ctx, backend)
	if err != nil {
		store.Close()
		return fail(fmt.Errorf("failed to load coordinate cache: %w", err))
	}

	geocoder := geocoding.NewNominatimGeocoder(geocoding.NominatimOptions{
		BaseURL:        cfg.Geocoding.BaseURL,
		UserAgent:      cfg.Geocoding.UserAgent,
		RatePerSecond:  cfg.Geocoding.RatePerSecond,
		Timeout:        cfg.Geocoding.Timeout,
		MaxRetries:     cfg.Geocoding.MaxRetries,
		InitialBackoff: cfg.Geocoding.InitialBackoff,
	})

	var calc distance.DistanceCalculator
	if cfg.Distance.Mode == models.EstimateModeOnline {
		calc = distance.NewOSRMCalculator(cfg.Distance.OSRMURL, cfg.Distance.Timeout, store.DistanceCache())
	}
	estimator := distance.NewEstimator(calc, distance.EstimatorOptions{
		Mode:     cfg.Distance.Mode,
		MemoSize: cfg.Distance.MemoSize,
	})

	res := resolver.New(geocoder, cache, resolver.DefaultCentroids(), resolver.Config{
		DefaultCountry: cfg.Resolver.DefaultCountry,
		BatchSize:      cfg.Resolver.BatchSize,
		BatchDelay:     cfg.Resolver.BatchDelay,
	})

	sessions := planner.NewSessionStore(planner.Deps{
		Resolver:  res,
		Estimator: estimator,
		Routes:    store.Routes(),
		Drafts:    store.Drafts(),
	})

	metrics.RegisterDefault()

	handler := &handlers.Handler{
		DB:        store,
		Cache:     cache,
		Resolver:  res,
		Estimator: estimator,
		Sessions:  sessions,
		Declutter: cfg.Declutter,
	}

	app.Server = New(Config{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, handler)
	return app, nil
}

// Shutdown stops the server, then releases cache connections
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	a.closeAll()
	return err
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Printf("[ERROR] Failed to close resource: err=%v", err)
		}
	}
	a.closers = nil
}

// openStore returns the configured data store; the SQLite store is also
// returned on its own so its coordinate table can back the cache
func openStore(ctx context.Context, cfg *config.Config, appDir string) (database.DataStore, *sqlite.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		path := cfg.Store.Path
		if path == "" {
			path = database.GetDefaultDBPath(appDir)
		}
		store, err := sqlite.New(path, sqlite.WithDistanceMaxAge(cfg.Distance.CacheMaxAge))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		if pruned, err := store.PruneDistances(ctx); err != nil {
			log.Printf("[ERROR] Failed to prune distance cache: err=%v", err)
		} else if pruned > 0 {
			log.Printf("[SQLITE] Pruned expired distances: count=%d", pruned)
		}
		return store, store, nil
	default:
		cachePath, err := database.GetDistanceCachePath(appDir)
		if err != nil {
			return nil, nil, err
		}
		distanceCache, err := database.NewFileDistanceCache(cachePath, cfg.Distance.CacheMaxAge)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize distance cache: %w", err)
		}

		path := cfg.Store.Path
		if path == "" {
			path = database.GetDataFilePath(appDir)
		}
		store, err := database.NewJSONStore(path, distanceCache)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize data store: %w", err)
		}
		return store, nil, nil
	}
}

func openCoordinateBackend(ctx context.Context, cfg *config.Config, appDir string, sqliteStore *sqlite.Store) (geocache.Backend, io.Closer, error) {
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		return geocache.NewMemoryBackend(), nil, nil
	case config.CacheSQLite:
		if sqliteStore == nil {
			return nil, nil, fmt.Errorf("cache backend %q requires the sqlite store", config.CacheSQLite)
		}
		return sqliteStore.Coordinates(), nil, nil
	case config.CachePostgres:
		db, err := postgres.Open(cfg.Cache.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		backend := postgres.NewCoordinateBackend(db)
		if err := backend.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return backend, db, nil
	case config.CacheRedis:
		backend, err := geocache.NewRedisBackend(cfg.Cache.RedisURL, cfg.Cache.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend, nil
	default:
		path, err := database.GetCoordinateCachePath(appDir)
		if err != nil {
			return nil, nil, err
		}
		return database.NewFileCoordinateBackend(path), nil, nil
	}
}
