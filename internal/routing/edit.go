package routing

import (
	"fmt"

	"fieldroute/internal/models"
)

// Route edits mutate the caller's route in place. Each successful edit
// renumbers the stops 1..n and clears segment metrics, which no longer
// describe the new order.

// AddStop appends a stop to the end of the route
func AddStop(route *models.Route, stop models.RouteStop) error {
	if indexOf(route, stop.Identity) >= 0 {
		return &ErrRouteEditFailed{Op: "add", Reason: fmt.Sprintf("%s is already on the route", stop.Identity), Err: ErrDuplicateStop}
	}

	route.Stops = append(route.Stops, stop)
	finishEdit(route)
	return nil
}

// RemoveStop deletes the stop with the given identity
func RemoveStop(route *models.Route, id models.StopIdentity) error {
	idx := indexOf(route, id)
	if idx < 0 {
		return &ErrRouteEditFailed{Op: "remove", Reason: string(id), Err: ErrStopNotFound}
	}

	route.Stops = append(route.Stops[:idx], route.Stops[idx+1:]...)
	finishEdit(route)
	return nil
}

// MoveStop moves a stop to a zero-based position, shifting the stops in between
func MoveStop(route *models.Route, id models.StopIdentity, to int) error {
	from := indexOf(route, id)
	if from < 0 {
		return &ErrRouteEditFailed{Op: "move", Reason: string(id), Err: ErrStopNotFound}
	}
	if to < 0 || to >= len(route.Stops) {
		return &ErrRouteEditFailed{Op: "move", Reason: fmt.Sprintf("position %d out of range [0,%d)", to, len(route.Stops))}
	}

	stop := route.Stops[from]
	route.Stops = append(route.Stops[:from], route.Stops[from+1:]...)
	route.Stops = append(route.Stops[:to], append([]models.RouteStop{stop}, route.Stops[to:]...)...)
	finishEdit(route)
	return nil
}

// ApplyOrder rearranges the stops to follow order, which must be a
// permutation of the route's identities
func ApplyOrder(route *models.Route, order []models.StopIdentity) error {
	if len(order) != len(route.Stops) {
		return &ErrRouteEditFailed{Op: "reorder", Reason: fmt.Sprintf("order has %d stops, route has %d", len(order), len(route.Stops))}
	}

	byID := make(map[models.StopIdentity]models.RouteStop, len(route.Stops))
	for _, s := range route.Stops {
		byID[s.Identity] = s
	}

	reordered := make([]models.RouteStop, 0, len(order))
	for _, id := range order {
		s, ok := byID[id]
		if !ok {
			return &ErrRouteEditFailed{Op: "reorder", Reason: string(id), Err: ErrStopNotFound}
		}
		delete(byID, id)
		reordered = append(reordered, s)
	}

	route.Stops = reordered
	finishEdit(route)
	return nil
}

func indexOf(route *models.Route, id models.StopIdentity) int {
	for i, s := range route.Stops {
		if s.Identity == id {
			return i
		}
	}
	return -1
}

func finishEdit(route *models.Route) {
	route.Renumber()
	route.ClearMetrics()
}
