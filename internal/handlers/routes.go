package handlers

import (
	"errors"
	"log"
	"net/http"

	"fieldroute/internal/database"
	"fieldroute/internal/models"
)

// HandleListRoutes handles GET /api/v1/routes?user=
func (h *Handler) HandleListRoutes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")

	routes, err := h.DB.Routes().List(r.Context(), userID)
	if err != nil {
		h.handleInternalError(w, err)
		return
	}

	log.Printf("[HTTP] GET /api/v1/routes: user=%s count=%d", userID, len(routes))
	h.writeJSON(w, http.StatusOK, routes)
}

// HandleCreateRoute handles POST /api/v1/routes
func (h *Handler) HandleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var route models.Route
	if !h.decodeJSON(w, r, &route) {
		return
	}

	created, err := h.DB.Routes().Create(r.Context(), &route)
	if err != nil {
		if errors.Is(err, database.ErrInvalidRoute) {
			h.handleValidationError(w, err.Error())
			return
		}
		h.handleInternalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newRouteView(created))
}

// HandleGetRoute handles GET /api/v1/routes/{id}
func (h *Handler) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.DB.Routes().GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Route not found")
			return
		}
		h.handleInternalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newRouteView(route))
}

// HandleDeleteRoute handles DELETE /api/v1/routes/{id}
func (h *Handler) HandleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.Routes().Delete(r.Context(), r.PathValue("id")); err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Route not found")
			return
		}
		h.handleInternalError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleHealthCheck handles GET /api/v1/health
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "connected"

	if err := h.DB.HealthCheck(r.Context()); err != nil {
		log.Printf("[ERROR] Health check failed: err=%v", err)
		status = "degraded"
		dbStatus = "error"
	}

	resp := map[string]interface{}{
		"status":   status,
		"version":  "1.0.0",
		"database": dbStatus,
	}
	if h.Estimator != nil {
		resp["distance_mode"] = h.Estimator.Mode()
	}
	if h.Cache != nil {
		resp["cached_coordinates"] = h.Cache.Len()
	}

	h.writeJSON(w, http.StatusOK, resp)
}
