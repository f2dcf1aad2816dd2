package handlers

import (
	"log"
	"net/http"

	"github.com/samber/lo"

	"fieldroute/internal/declutter"
	"fieldroute/internal/models"
	"fieldroute/internal/routing"
)

// ResolveRequest represents the request for coordinate resolution
type ResolveRequest struct {
	Customers []models.Customer `json:"customers"`
}

// ResolvedStop is one customer's resolution outcome
type ResolvedStop struct {
	Identity models.StopIdentity `json:"identity"`
	Resolved bool                `json:"resolved"`
	Coords   *models.Coordinates `json:"coords,omitempty"`
}

// ResolveResponse lists outcomes in request order
type ResolveResponse struct {
	Stops      []ResolvedStop `json:"stops"`
	Unresolved int            `json:"unresolved"`
}

// SequenceRequest represents the request for nearest-neighbour ordering
type SequenceRequest struct {
	Start *models.Coordinates    `json:"start"`
	Stops []routing.SequenceStop `json:"stops"`
}

// EstimateRequest represents the request for segment estimation
type EstimateRequest struct {
	Stops []models.RouteStop `json:"stops"`
}

// DeclutterRequest represents the request for marker spreading
type DeclutterRequest struct {
	Viewport models.Viewport      `json:"viewport"`
	Points   []models.MarkerPoint `json:"points"`
	Options  *declutter.Options   `json:"options,omitempty"`
}

// DeclutterResponse holds render positions in request order
type DeclutterResponse struct {
	Points []models.RenderPoint `json:"points"`
}

// HandleResolve handles POST /api/v1/resolve
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, false)
}

// HandleRelocate handles POST /api/v1/relocate
func (h *Handler) HandleRelocate(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, true)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, relocate bool) {
	var req ResolveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if _, missing := lo.Find(req.Customers, func(c models.Customer) bool { return c.ID == "" }); missing {
		h.handleValidationError(w, "Every customer needs an id")
		return
	}

	log.Printf("[HTTP] %s %s: customers=%d", r.Method, r.URL.Path, len(req.Customers))

	var results map[models.StopIdentity]*models.Coordinates
	if relocate {
		results = h.Resolver.Relocate(r.Context(), req.Customers, nil)
	} else {
		results = h.Resolver.ResolveAll(r.Context(), req.Customers, nil)
	}

	stops := lo.Map(req.Customers, func(c models.Customer, _ int) ResolvedStop {
		coords := results[c.ID]
		return ResolvedStop{Identity: c.ID, Resolved: coords != nil, Coords: coords}
	})

	h.writeJSON(w, http.StatusOK, ResolveResponse{
		Stops:      stops,
		Unresolved: lo.CountBy(stops, func(s ResolvedStop) bool { return !s.Resolved }),
	})
}

// HandleSequence handles POST /api/v1/sequence
func (h *Handler) HandleSequence(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.Start == nil || !req.Start.Valid() {
		h.handleValidationError(w, "A valid start position is required")
		return
	}
	if _, bad := lo.Find(req.Stops, func(s routing.SequenceStop) bool { return s.Coords != nil && !s.Coords.Valid() }); bad {
		h.handleValidationError(w, "Stop coordinates out of range")
		return
	}

	h.writeJSON(w, http.StatusOK, routing.Sequence(req.Stops, *req.Start))
}

// HandleEstimate handles POST /api/v1/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	est, err := h.Estimator.EstimateSegments(r.Context(), req.Stops)
	if err != nil {
		h.handleInternalError(w, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/estimate: stops=%d mode=%s total_km=%.2f degraded=%v",
		len(req.Stops), est.Mode, est.TotalDistanceKm, est.Degraded)
	h.writeJSON(w, http.StatusOK, est)
}

// HandleDeclutter handles POST /api/v1/declutter
func (h *Handler) HandleDeclutter(w http.ResponseWriter, r *http.Request) {
	var req DeclutterRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.Viewport.Zoom < 0 || req.Viewport.Zoom > 24 {
		h.handleValidationError(w, "Zoom must be between 0 and 24")
		return
	}

	opts := h.Declutter
	if req.Options != nil {
		opts = *req.Options
	}

	h.writeJSON(w, http.StatusOK, DeclutterResponse{
		Points: declutter.Declutter(req.Points, req.Viewport, opts),
	})
}
