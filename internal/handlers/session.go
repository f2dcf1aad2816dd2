package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/samber/lo"

	"fieldroute/internal/models"
	"fieldroute/internal/planner"
	"fieldroute/internal/routing"
)

// StopView is a route stop with its resolution state spelled out
type StopView struct {
	models.RouteStop
	Resolved bool `json:"resolved"`
}

// RouteView is the route as returned to clients
type RouteView struct {
	models.Route
	Stops      []StopView            `json:"stops"`
	Unresolved []models.StopIdentity `json:"unresolved"`
}

// SessionOptimizeResponse is returned by the optimize endpoint
type SessionOptimizeResponse struct {
	Route     RouteView        `json:"route"`
	Optimized bool             `json:"optimized"`
	Estimate  *models.Estimate `json:"estimate"`
}

// SetCustomersRequest replaces the session's stops
type SetCustomersRequest struct {
	Customers []models.Customer `json:"customers"`
}

// MoveStopRequest moves a stop to a zero-based position
type MoveStopRequest struct {
	Identity models.StopIdentity `json:"identity"`
	Position int                 `json:"position"`
}

// OptimizeRequest carries the user's current position
type OptimizeRequest struct {
	Start *models.Coordinates `json:"start"`
}

// SaveRouteRequest names the route being saved
type SaveRouteRequest struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Time string `json:"time"`
}

func newRouteView(route *models.Route) RouteView {
	return RouteView{
		Route: *route,
		Stops: lo.Map(route.Stops, func(s models.RouteStop, _ int) StopView {
			return StopView{RouteStop: s, Resolved: s.Resolved()}
		}),
		Unresolved: lo.FilterMap(route.Stops, func(s models.RouteStop, _ int) (models.StopIdentity, bool) {
			return s.Identity, !s.Resolved()
		}),
	}
}

// openSession resolves the {user} path value into a session
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) (*planner.Session, bool) {
	userID := r.PathValue("user")
	if userID == "" {
		h.handleValidationError(w, "User is required")
		return nil, false
	}

	session, err := h.Sessions.Open(r.Context(), userID)
	if err != nil {
		h.handleInternalError(w, err)
		return nil, false
	}
	return session, true
}

// handleSessionError maps planner and route edit errors to responses
func (h *Handler) handleSessionError(w http.ResponseWriter, err error) {
	var editErr *routing.ErrRouteEditFailed
	switch {
	case errors.Is(err, routing.ErrStopNotFound):
		h.handleNotFound(w, err.Error())
	case errors.Is(err, routing.ErrDuplicateStop):
		h.handleConflict(w, err.Error())
	case errors.Is(err, planner.ErrRouteChanged):
		h.handleConflict(w, "The route changed while it was being estimated. Please try again.")
	case errors.Is(err, planner.ErrEmptyRoute):
		h.handleValidationError(w, "Add at least one stop before saving.")
	case errors.As(err, &editErr):
		h.handleValidationError(w, err.Error())
	default:
		h.handleInternalError(w, err)
	}
}

// HandleGetSession handles GET /api/v1/session/{user}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, newRouteView(session.Route()))
}

// HandleSetSessionCustomers handles PUT /api/v1/session/{user}
func (h *Handler) HandleSetSessionCustomers(w http.ResponseWriter, r *http.Request) {
	var req SetCustomersRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if _, missing := lo.Find(req.Customers, func(c models.Customer) bool { return c.ID == "" }); missing {
		h.handleValidationError(w, "Every customer needs an id")
		return
	}

	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.SetCustomers(r.Context(), req.Customers)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	log.Printf("[HTTP] PUT /api/v1/session: user=%s stops=%d", session.UserID, len(route.Stops))
	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleClearSession handles DELETE /api/v1/session/{user}
func (h *Handler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := session.Clear(r.Context()); err != nil {
		h.handleInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAddSessionStop handles POST /api/v1/session/{user}/stops
func (h *Handler) HandleAddSessionStop(w http.ResponseWriter, r *http.Request) {
	var customer models.Customer
	if !h.decodeJSON(w, r, &customer) {
		return
	}
	if customer.ID == "" {
		h.handleValidationError(w, "Customer id is required")
		return
	}

	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.AddCustomer(r.Context(), customer)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleRemoveSessionStop handles DELETE /api/v1/session/{user}/stops/{id}
func (h *Handler) HandleRemoveSessionStop(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.RemoveStop(r.Context(), models.StopIdentity(r.PathValue("id")))
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleMoveSessionStop handles POST /api/v1/session/{user}/move
func (h *Handler) HandleMoveSessionStop(w http.ResponseWriter, r *http.Request) {
	var req MoveStopRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.MoveStop(r.Context(), req.Identity, req.Position)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleOptimizeSession handles POST /api/v1/session/{user}/optimize
func (h *Handler) HandleOptimizeSession(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Start == nil || !req.Start.Valid() {
		h.handleValidationError(w, "A valid start position is required")
		return
	}

	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	result, err := session.Optimize(r.Context(), *req.Start)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/session/optimize: user=%s stops=%d optimized=%v total_km=%.2f",
		session.UserID, len(result.Route.Stops), result.Sequence.Optimized, result.Route.TotalDistanceKm)
	h.writeJSON(w, http.StatusOK, SessionOptimizeResponse{
		Route:     newRouteView(result.Route),
		Optimized: result.Sequence.Optimized,
		Estimate:  result.Estimate,
	})
}

// HandleEstimateSession handles POST /api/v1/session/{user}/estimate
func (h *Handler) HandleEstimateSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	est, err := session.Estimate(r.Context())
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, est)
}

// HandleRelocateSession handles POST /api/v1/session/{user}/relocate
func (h *Handler) HandleRelocateSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.Relocate(r.Context())
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleSaveSession handles POST /api/v1/session/{user}/save
func (h *Handler) HandleSaveSession(w http.ResponseWriter, r *http.Request) {
	var req SaveRouteRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	session, ok := h.openSession(w, r)
	if !ok {
		return
	}

	route, err := session.Save(r.Context(), req.Name, req.Date, req.Time)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newRouteView(route))
}
