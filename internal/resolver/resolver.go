package resolver

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fieldroute/internal/geocache"
	"fieldroute/internal/geocoding"
	"fieldroute/internal/metrics"
	"fieldroute/internal/models"
)

// Tier names, in the order they are tried
const (
	TierStored       = "stored"
	TierCache        = "cache"
	TierStreet       = "street"
	TierCityProvince = "city_province"
	TierProvince     = "province"
	TierCity         = "city"
	TierCentroid     = "centroid"

	outcomeUnresolved = "unresolved"
)

// Config holds resolver tuning knobs
type Config struct {
	DefaultCountry string
	BatchSize      int
	BatchDelay     time.Duration
}

// DefaultConfig returns the resolver defaults
func DefaultConfig() Config {
	return Config{
		DefaultCountry: "España",
		BatchSize:      5,
		BatchDelay:     time.Second,
	}
}

// Resolver turns customer records into coordinates through an ordered
// fallback chain. It never fails: nil means the customer is unplaceable.
type Resolver struct {
	geocoder  geocoding.Geocoder
	cache     geocache.CoordinateCache
	centroids CentroidTable
	cfg       Config
	tiers     []tier
}

// attempt carries per-customer state across tiers
type attempt struct {
	customer *models.Customer
	query    models.LocationQuery
	tried    map[string]bool
	network  bool
}

type tier struct {
	name string
	run  func(ctx context.Context, a *attempt) (*models.Coordinates, bool)
}

// New creates a resolver. A nil centroid table uses DefaultCentroids.
func New(geocoder geocoding.Geocoder, cache geocache.CoordinateCache, centroids CentroidTable, cfg Config) *Resolver {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if centroids == nil {
		centroids = DefaultCentroids()
	}

	r := &Resolver{
		geocoder:  geocoder,
		cache:     cache,
		centroids: centroids,
		cfg:       cfg,
	}
	r.tiers = []tier{
		{name: TierStored, run: r.fromStored},
		{name: TierCache, run: r.fromCache},
		{name: TierStreet, run: r.geocodeTier(TierStreet, func(q models.LocationQuery) string {
			if strings.TrimSpace(q.Street) == "" {
				return ""
			}
			return q.Full()
		})},
		{name: TierCityProvince, run: r.geocodeTier(TierCityProvince, func(q models.LocationQuery) string {
			if blank(q.City) && blank(q.Province) {
				return ""
			}
			return q.CityProvince()
		})},
		{name: TierProvince, run: r.geocodeTier(TierProvince, func(q models.LocationQuery) string {
			if blank(q.Province) {
				return ""
			}
			return q.ProvinceOnly()
		})},
		{name: TierCity, run: r.geocodeTier(TierCity, func(q models.LocationQuery) string {
			if blank(q.City) {
				return ""
			}
			return q.CityOnly()
		})},
		{name: TierCentroid, run: r.fromCentroid},
	}
	return r
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Resolve places a single customer, returning nil when every tier missed
func (r *Resolver) Resolve(ctx context.Context, customer *models.Customer) *models.Coordinates {
	coords, tierName, _ := r.resolve(ctx, customer)
	if coords != nil && tierName != TierCache && r.cache != nil {
		if err := r.cache.Put(ctx, customer.ID, *coords); err != nil {
			log.Printf("[RESOLVER] Cache write failed: id=%s tier=%s err=%v", customer.ID, tierName, err)
		}
	}
	return coords
}

// resolve walks the tiers and reports the tier that answered and whether the
// geocoder was called. Writing the result to the cache is left to the caller.
func (r *Resolver) resolve(ctx context.Context, customer *models.Customer) (*models.Coordinates, string, bool) {
	if customer == nil {
		return nil, "", false
	}

	a := &attempt{
		customer: customer,
		query:    customer.Location,
		tried:    make(map[string]bool),
	}
	if blank(a.query.Country) {
		a.query.Country = r.cfg.DefaultCountry
	}

	for _, t := range r.tiers {
		if ctx.Err() != nil {
			break
		}

		coords, ok := t.run(ctx, a)
		if !ok {
			continue
		}

		metrics.ResolverOutcomes.WithLabelValues(t.name).Inc()
		log.Printf("[RESOLVER] Resolved: id=%s tier=%s lat=%.6f lng=%.6f", customer.ID, t.name, coords.Lat, coords.Lng)
		return coords, t.name, a.network
	}

	metrics.ResolverOutcomes.WithLabelValues(outcomeUnresolved).Inc()
	log.Printf("[RESOLVER] Unresolved: id=%s", customer.ID)
	return nil, "", a.network
}

func (r *Resolver) fromStored(ctx context.Context, a *attempt) (*models.Coordinates, bool) {
	coords, ok := a.customer.StoredCoords()
	if !ok {
		return nil, false
	}
	return &coords, true
}

func (r *Resolver) fromCache(ctx context.Context, a *attempt) (*models.Coordinates, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(ctx, a.customer.ID)
}

// geocodeTier builds a tier that sends the formatted query to the geocoder.
// An empty query skips the tier, and a query already sent for this customer is not repeated.
func (r *Resolver) geocodeTier(name string, format func(models.LocationQuery) string) func(context.Context, *attempt) (*models.Coordinates, bool) {
	return func(ctx context.Context, a *attempt) (*models.Coordinates, bool) {
		if r.geocoder == nil {
			return nil, false
		}

		query := format(a.query)
		if query == "" {
			return nil, false
		}
		if a.tried[query] {
			return nil, false
		}
		a.tried[query] = true
		a.network = true

		result, err := r.geocoder.Geocode(ctx, query)
		if err != nil {
			outcome := "error"
			if errors.Is(err, geocoding.ErrNoResults) {
				outcome = "not_found"
			}
			metrics.GeocodeRequests.WithLabelValues(name, outcome).Inc()
			log.Printf("[RESOLVER] Tier miss: id=%s tier=%s query=%q err=%v", a.customer.ID, name, query, err)
			return nil, false
		}
		if result == nil || !result.Coords.Valid() {
			metrics.GeocodeRequests.WithLabelValues(name, "invalid").Inc()
			return nil, false
		}

		metrics.GeocodeRequests.WithLabelValues(name, "ok").Inc()
		coords := result.Coords
		return &coords, true
	}
}

// fromCentroid consults the offline table, city first, then province
func (r *Resolver) fromCentroid(ctx context.Context, a *attempt) (*models.Coordinates, bool) {
	for _, name := range []string{a.query.City, a.query.Province} {
		if c, ok := r.centroids.Lookup(name); ok {
			return &c, true
		}
	}
	return nil, false
}

// ResolveAll resolves customers in small concurrent batches, pausing between
// batches that reached the geocoder. keep is consulted when each result
// arrives; results for identities it rejects are discarded. A nil keep keeps all.
// Unresolved customers that are kept map to nil.
func (r *Resolver) ResolveAll(ctx context.Context, customers []models.Customer, keep func(models.StopIdentity) bool) map[models.StopIdentity]*models.Coordinates {
	results := make(map[models.StopIdentity]*models.Coordinates, len(customers))
	var mu sync.Mutex

	for start := 0; start < len(customers); start += r.cfg.BatchSize {
		if ctx.Err() != nil {
			log.Printf("[RESOLVER] Batch resolution cancelled: done=%d total=%d", start, len(customers))
			break
		}

		end := start + r.cfg.BatchSize
		if end > len(customers) {
			end = len(customers)
		}
		batch := customers[start:end]

		var networkUsed bool
		fresh := make(map[models.StopIdentity]models.Coordinates)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.BatchSize)
		for i := range batch {
			customer := &batch[i]
			g.Go(func() error {
				coords, tierName, network := r.resolve(gctx, customer)

				mu.Lock()
				defer mu.Unlock()
				if network {
					networkUsed = true
				}
				if coords != nil && tierName != TierCache {
					fresh[customer.ID] = *coords
				}
				if keep != nil && !keep(customer.ID) {
					log.Printf("[RESOLVER] Discarding stale result: id=%s", customer.ID)
					return nil
				}
				results[customer.ID] = coords
				return nil
			})
		}
		_ = g.Wait()

		if r.cache != nil && len(fresh) > 0 {
			if err := r.cache.PutMany(context.WithoutCancel(ctx), fresh); err != nil {
				log.Printf("[RESOLVER] Cache write failed: count=%d err=%v", len(fresh), err)
			}
		}

		if networkUsed && end < len(customers) && r.cfg.BatchDelay > 0 {
			select {
			case <-time.After(r.cfg.BatchDelay):
			case <-ctx.Done():
			}
		}
	}

	return results
}

// Relocate clears the coordinate cache and resolves every customer again,
// ignoring cached values. Stored coordinates still win.
func (r *Resolver) Relocate(ctx context.Context, customers []models.Customer, keep func(models.StopIdentity) bool) map[models.StopIdentity]*models.Coordinates {
	if r.cache != nil {
		if err := r.cache.InvalidateAll(ctx); err != nil {
			log.Printf("[ERROR] Failed to invalidate coordinate cache: err=%v", err)
		}
	}
	return r.ResolveAll(ctx, customers, keep)
}
