package models

import (
	"math"
	"strings"
	"time"
)

// Coordinates represents a geographic point in decimal degrees (WGS84)
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the latitude/longitude ranges
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// RoundCoordinate rounds a coordinate to 5 decimal places (~1m precision)
func RoundCoordinate(v float64) float64 {
	return math.Round(v*100000) / 100000
}

// StopIdentity is the stable key of a customer-like entity
type StopIdentity string

// LocationQuery is a structured address candidate
type LocationQuery struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Full formats street, postal code, city, province and country
func (q LocationQuery) Full() string {
	return joinParts(q.Street, q.PostalCode, q.City, q.Province, q.Country)
}

// CityProvince formats city, province and country
func (q LocationQuery) CityProvince() string {
	return joinParts(q.City, q.Province, q.Country)
}

// ProvinceOnly formats province and country
func (q LocationQuery) ProvinceOnly() string {
	return joinParts(q.Province, q.Country)
}

// CityOnly formats city and country
func (q LocationQuery) CityOnly() string {
	return joinParts(q.City, q.Country)
}

func joinParts(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// Customer is the customer-like record handed to the address resolver
type Customer struct {
	ID       StopIdentity  `json:"id"`
	Name     string        `json:"name"`
	Location LocationQuery `json:"location"`
	Lat      *float64      `json:"lat,omitempty"`
	Lng      *float64      `json:"lng,omitempty"`
}

// StoredCoords returns the record's own coordinates when both are present and valid
func (c *Customer) StoredCoords() (Coordinates, bool) {
	if c.Lat == nil || c.Lng == nil {
		return Coordinates{}, false
	}
	coords := Coordinates{Lat: *c.Lat, Lng: *c.Lng}
	if !coords.Valid() {
		return Coordinates{}, false
	}
	// 0,0 is what an unset numeric column looks like after import
	if coords.Lat == 0 && coords.Lng == 0 {
		return Coordinates{}, false
	}
	return coords, true
}

// CoordinateCacheEntry is a resolved coordinate remembered for an identity
type CoordinateCacheEntry struct {
	Identity  StopIdentity `json:"identity"`
	Coords    Coordinates  `json:"coords"`
	WrittenAt time.Time    `json:"written_at"`
}

// RouteStop represents a single stop in a route
type RouteStop struct {
	Identity            StopIdentity  `json:"identity"`
	Name                string        `json:"name"`
	Location            LocationQuery `json:"location"`
	Coords              *Coordinates  `json:"coords,omitempty"`
	StoredCoords        *Coordinates  `json:"stored_coords,omitempty"`
	Order               int           `json:"order"`
	DistanceFromPrevKm  *float64      `json:"distance_from_prev_km"`
	DurationFromPrevMin *float64      `json:"duration_from_prev_min"`
	SegmentError        string        `json:"segment_error,omitempty"`
}

// Resolved reports whether the stop has a coordinate
func (s *RouteStop) Resolved() bool {
	return s.Coords != nil
}

// Route is an ordered visiting sequence plus its aggregate metrics
type Route struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Name             string      `json:"name"`
	Date             string      `json:"date"`
	Time             string      `json:"time"`
	Stops            []RouteStop `json:"stops"`
	TotalDistanceKm  float64     `json:"total_distance_km"`
	TotalDurationMin float64     `json:"total_duration_min"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Renumber assigns contiguous orders starting at 1 following slice position
func (r *Route) Renumber() {
	for i := range r.Stops {
		r.Stops[i].Order = i + 1
	}
}

// RecomputeTotals re-derives the aggregate distance and duration from the stops
func (r *Route) RecomputeTotals() {
	r.TotalDistanceKm = 0
	r.TotalDurationMin = 0
	for _, s := range r.Stops {
		if s.DistanceFromPrevKm != nil {
			r.TotalDistanceKm += *s.DistanceFromPrevKm
		}
		if s.DurationFromPrevMin != nil {
			r.TotalDurationMin += *s.DurationFromPrevMin
		}
	}
}

// ClearMetrics drops all segment metrics, used after the order changed
func (r *Route) ClearMetrics() {
	for i := range r.Stops {
		r.Stops[i].DistanceFromPrevKm = nil
		r.Stops[i].DurationFromPrevMin = nil
		r.Stops[i].SegmentError = ""
	}
	r.TotalDistanceKm = 0
	r.TotalDurationMin = 0
}

// Clone returns a deep copy of the route
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Stops = make([]RouteStop, len(r.Stops))
	for i, s := range r.Stops {
		out.Stops[i] = s
		if s.Coords != nil {
			c := *s.Coords
			out.Stops[i].Coords = &c
		}
		if s.StoredCoords != nil {
			c := *s.StoredCoords
			out.Stops[i].StoredCoords = &c
		}
		if s.DistanceFromPrevKm != nil {
			d := *s.DistanceFromPrevKm
			out.Stops[i].DistanceFromPrevKm = &d
		}
		if s.DurationFromPrevMin != nil {
			d := *s.DurationFromPrevMin
			out.Stops[i].DurationFromPrevMin = &d
		}
	}
	return &out
}

// EstimateMode names how segment metrics were produced
type EstimateMode string

const (
	EstimateModeOnline  EstimateMode = "online"
	EstimateModeOffline EstimateMode = "offline"
)

// Segment is the travel estimate between two consecutive stops
type Segment struct {
	FromIdentity StopIdentity `json:"from"`
	ToIdentity   StopIdentity `json:"to"`
	DistanceKm   float64      `json:"distance_km"`
	DurationMin  *float64     `json:"duration_min"`
	Error        string       `json:"error,omitempty"`
}

// Estimate contains per-segment metrics for an ordered list of stops
type Estimate struct {
	Signature        string       `json:"signature"`
	Mode             EstimateMode `json:"mode"`
	Segments         []Segment    `json:"segments"`
	TotalDistanceKm  float64      `json:"total_distance_km"`
	TotalDurationMin float64      `json:"total_duration_min"`
	Degraded         bool         `json:"degraded"`
}

// RecomputeTotals sums segment distances and the durations that are set
func (e *Estimate) RecomputeTotals() {
	e.TotalDistanceKm = 0
	e.TotalDurationMin = 0
	for _, s := range e.Segments {
		e.TotalDistanceKm += s.DistanceKm
		if s.DurationMin != nil {
			e.TotalDurationMin += *s.DurationMin
		}
	}
}

// Viewport describes the visible map area
type Viewport struct {
	Center   Coordinates `json:"center"`
	Zoom     float64     `json:"zoom"`
	WidthPx  int         `json:"width_px"`
	HeightPx int         `json:"height_px"`
}

// MarkerPoint is a stop position handed to the declutter pass
type MarkerPoint struct {
	Identity StopIdentity `json:"identity"`
	Coords   Coordinates  `json:"coords"`
	GroupKey string       `json:"group_key,omitempty"`
}

// RenderPoint is a render-only marker position
type RenderPoint struct {
	Identity  StopIdentity `json:"identity"`
	Coords    Coordinates  `json:"coords"`
	Displaced bool         `json:"displaced"`
}

// DistanceCacheEntry represents a cached driving distance lookup
type DistanceCacheEntry struct {
	Origin         Coordinates `json:"origin"`
	Destination    Coordinates `json:"destination"`
	DistanceMeters float64     `json:"distance_meters"`
	DurationSecs   float64     `json:"duration_secs"`
	CachedAt       time.Time   `json:"cached_at"`
}
