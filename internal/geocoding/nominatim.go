package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"fieldroute/internal/models"
)

// GeocodingResult contains the result of a geocoding operation
type GeocodingResult struct {
	Coords      models.Coordinates
	DisplayName string
}

// Geocoder provides address-to-coordinates conversion
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*GeocodingResult, error)
}

// ErrNoResults is wrapped by ErrGeocodingFailed when the provider found nothing
var ErrNoResults = errors.New("no results found")

// ErrGeocodingFailed is returned when an address cannot be geocoded
type ErrGeocodingFailed struct {
	Address   string
	Reason    string
	Retryable bool
	Err       error
}

func (e *ErrGeocodingFailed) Error() string {
	return fmt.Sprintf("geocoding failed for address: %s - %s", e.Address, e.Reason)
}

func (e *ErrGeocodingFailed) Unwrap() error {
	return e.Err
}

// NominatimOptions configures the Nominatim client
type NominatimOptions struct {
	BaseURL        string
	UserAgent      string
	RatePerSecond  float64
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type nominatimGeocoder struct {
	baseURL        string
	userAgent      string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
}

type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatimGeocoder creates a new Nominatim geocoder with rate limiting.
// Zero option values fall back to the public instance's usage policy (1 req/s).
func NewNominatimGeocoder(opts NominatimOptions) Geocoder {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "FieldRoute/1.0"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}

	return &nominatimGeocoder{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
	}
}

// Geocode resolves an address, retrying transient failures up to the configured limit
func (g *nominatimGeocoder) Geocode(ctx context.Context, address string) (*GeocodingResult, error) {
	return g.GeocodeWithRetry(ctx, address, g.maxRetries)
}

func (g *nominatimGeocoder) geocodeOnce(ctx context.Context, address string) (*GeocodingResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	queryURL := fmt.Sprintf("%s/search?q=%s&format=json&limit=1", g.baseURL, url.QueryEscape(address))
	log.Printf("[GEOCODING] Request: address=%s", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error(), Err: err}
	}

	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] Geocoding API request failed: address=%s err=%v", address, err)
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error(), Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[ERROR] Geocoding API error: address=%s status=%d", address, resp.StatusCode)
		return nil, &ErrGeocodingFailed{
			Address:   address,
			Reason:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		log.Printf("[ERROR] Failed to decode geocoding response: address=%s err=%v", address, err)
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error(), Err: err}
	}

	if len(results) == 0 {
		log.Printf("[GEOCODING] No results: address=%s", address)
		return nil, &ErrGeocodingFailed{Address: address, Reason: ErrNoResults.Error(), Err: ErrNoResults}
	}

	result := results[0]
	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: "invalid latitude", Err: err}
	}
	lng, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: "invalid longitude", Err: err}
	}

	coords := models.Coordinates{Lat: lat, Lng: lng}
	if !coords.Valid() {
		return nil, &ErrGeocodingFailed{Address: address, Reason: "coordinates out of range"}
	}

	log.Printf("[GEOCODING] Response: address=%s lat=%.6f lng=%.6f", address, lat, lng)
	return &GeocodingResult{
		Coords:      coords,
		DisplayName: result.DisplayName,
	}, nil
}

// GeocodeWithRetry retries retryable failures with exponential backoff.
// Not-found and malformed responses are returned immediately.
func (g *nominatimGeocoder) GeocodeWithRetry(ctx context.Context, address string, maxRetries int) (*GeocodingResult, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		result, err := g.geocodeOnce(ctx, address)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var gerr *ErrGeocodingFailed
		if !errors.As(err, &gerr) || !gerr.Retryable {
			return nil, err
		}

		if i < maxRetries-1 {
			backoff := g.initialBackoff * time.Duration(1<<uint(i))
			log.Printf("[GEOCODING] Retry %d/%d: address=%s backoff=%v err=%v", i+1, maxRetries, address, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	log.Printf("[ERROR] Geocoding failed after %d attempts: address=%s err=%v", maxRetries, address, lastErr)
	return nil, lastErr
}
