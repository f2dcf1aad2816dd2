package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"fieldroute/internal/database"
	"fieldroute/internal/models"
)

// DistanceResult contains the result of a distance calculation
type DistanceResult struct {
	DistanceMeters float64
	DurationSecs   float64
}

// DistanceCalculator provides driving distances between coordinates
type DistanceCalculator interface {
	GetDistance(ctx context.Context, origin, dest models.Coordinates) (*DistanceResult, error)
}

// Leg is one directed origin to destination pair
type Leg struct {
	Origin models.Coordinates
	Dest   models.Coordinates
}

// RouteCalculator prices consecutive legs of one route together. Results and
// errors are indexed like legs; legs after an unavailable-service failure are
// left unpriced with a nil error.
type RouteCalculator interface {
	DistanceCalculator
	GetRouteDistances(ctx context.Context, legs []Leg) ([]*DistanceResult, []error)
}

// ErrDistanceCalculationFailed is returned when the routing service fails.
// Unavailable marks failures that mean the service itself is unreachable
// (transport errors, HTTP 429 and 5xx) rather than a problem with one pair.
type ErrDistanceCalculationFailed struct {
	Origin      models.Coordinates
	Dest        models.Coordinates
	Reason      string
	Unavailable bool
}

func (e *ErrDistanceCalculationFailed) Error() string {
	return fmt.Sprintf("distance calculation failed: %s", e.Reason)
}

type osrmCalculator struct {
	baseURL    string
	httpClient *http.Client
	cache      database.DistanceCacheRepository
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// NewOSRMCalculator creates a new OSRM distance calculator with caching.
// An empty baseURL uses the public demo server; a nil cache disables caching.
func NewOSRMCalculator(baseURL string, timeout time.Duration, cache database.DistanceCacheRepository) DistanceCalculator {
	if baseURL == "" {
		baseURL = "https://router.project-osrm.org"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &osrmCalculator{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: cache,
	}
}

func (c *osrmCalculator) GetDistance(ctx context.Context, origin, dest models.Coordinates) (*DistanceResult, error) {
	if result, ok := c.lookup(ctx, origin, dest); ok {
		return result, nil
	}

	result, err := c.fetchRoute(ctx, origin, dest)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		entry := newCacheEntry(origin, dest, result)
		if err := c.cache.Set(ctx, &entry); err != nil {
			log.Printf("[ERROR] Failed to cache distance: err=%v", err)
		}
	}

	log.Printf("[OSRM] Distance calculated: origin=(%.6f,%.6f) dest=(%.6f,%.6f) distance=%.0f", origin.Lat, origin.Lng, dest.Lat, dest.Lng, result.DistanceMeters)
	return result, nil
}

// GetRouteDistances prices legs in order and writes every newly fetched pair
// to the cache with a single batch write
func (c *osrmCalculator) GetRouteDistances(ctx context.Context, legs []Leg) ([]*DistanceResult, []error) {
	results := make([]*DistanceResult, len(legs))
	errs := make([]error, len(legs))
	var fresh []models.DistanceCacheEntry

	for i, leg := range legs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		if result, ok := c.lookup(ctx, leg.Origin, leg.Dest); ok {
			results[i] = result
			continue
		}

		result, err := c.fetchRoute(ctx, leg.Origin, leg.Dest)
		if err != nil {
			errs[i] = err
			var calcErr *ErrDistanceCalculationFailed
			if errors.As(err, &calcErr) && calcErr.Unavailable {
				break
			}
			continue
		}
		results[i] = result
		fresh = append(fresh, newCacheEntry(leg.Origin, leg.Dest, result))
	}

	if c.cache != nil && len(fresh) > 0 {
		if err := c.cache.SetBatch(context.WithoutCancel(ctx), fresh); err != nil {
			log.Printf("[ERROR] Failed to cache distances: count=%d err=%v", len(fresh), err)
		}
	}
	log.Printf("[OSRM] Route priced: legs=%d fetched=%d", len(legs), len(fresh))
	return results, errs
}

// lookup answers a pair without the network: identical points (to ~1m) are
// zero, anything else comes from the cache when present
func (c *osrmCalculator) lookup(ctx context.Context, origin, dest models.Coordinates) (*DistanceResult, bool) {
	if models.RoundCoordinate(origin.Lat) == models.RoundCoordinate(dest.Lat) &&
		models.RoundCoordinate(origin.Lng) == models.RoundCoordinate(dest.Lng) {
		return &DistanceResult{DistanceMeters: 0, DurationSecs: 0}, true
	}
	if c.cache == nil {
		return nil, false
	}

	cached, err := c.cache.Get(ctx, origin, dest)
	if err != nil {
		log.Printf("[OSRM] Cache read failed, querying service: err=%v", err)
		return nil, false
	}
	if cached == nil {
		log.Printf("[OSRM] Cache miss: origin=(%.6f,%.6f) dest=(%.6f,%.6f)", origin.Lat, origin.Lng, dest.Lat, dest.Lng)
		return nil, false
	}
	return &DistanceResult{
		DistanceMeters: cached.DistanceMeters,
		DurationSecs:   cached.DurationSecs,
	}, true
}

func newCacheEntry(origin, dest models.Coordinates, result *DistanceResult) models.DistanceCacheEntry {
	return models.DistanceCacheEntry{
		Origin:         origin,
		Destination:    dest,
		DistanceMeters: result.DistanceMeters,
		DurationSecs:   result.DurationSecs,
		CachedAt:       time.Now().UTC(),
	}
}

func (c *osrmCalculator) fetchRoute(ctx context.Context, origin, dest models.Coordinates) (*DistanceResult, error) {
	queryURL := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		c.baseURL, origin.Lng, origin.Lat, dest.Lng, dest.Lat)

	fail := func(reason string, unavailable bool) error {
		return &ErrDistanceCalculationFailed{Origin: origin, Dest: dest, Reason: reason, Unavailable: unavailable}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to create OSRM request: err=%v", err)
		return nil, fail(err.Error(), false)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] OSRM API request failed: err=%v", err)
		return nil, fail(err.Error(), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[ERROR] OSRM API error: status=%d body=%s", resp.StatusCode, string(body))
		unavailable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, fail(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), unavailable)
	}

	var osrmResp osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&osrmResp); err != nil {
		log.Printf("[ERROR] Failed to decode OSRM response: err=%v", err)
		return nil, fail(err.Error(), false)
	}

	if osrmResp.Code != "Ok" || len(osrmResp.Routes) == 0 {
		log.Printf("[ERROR] OSRM returned no route: code=%s", osrmResp.Code)
		return nil, fail(fmt.Sprintf("OSRM error: %s", osrmResp.Code), false)
	}

	return &DistanceResult{
		DistanceMeters: osrmResp.Routes[0].Distance,
		DurationSecs:   osrmResp.Routes[0].Duration,
	}, nil
}
