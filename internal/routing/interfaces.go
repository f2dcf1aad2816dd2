package routing

import (
	"errors"
	"fmt"

	"fieldroute/internal/models"
)

// SequenceStop is one stop handed to the sequencer. Coords is nil for
// stops the resolver could not place.
type SequenceStop struct {
	Identity models.StopIdentity `json:"identity"`
	Coords   *models.Coordinates `json:"coords,omitempty"`
}

// SequenceResult is a visiting order over the input identities
type SequenceResult struct {
	Order []models.StopIdentity `json:"order"`
	// Optimized is false when no stop had coordinates and the input order was kept
	Optimized bool `json:"optimized"`
	// Unresolved lists the stops appended after the optimized part, in input order
	Unresolved []models.StopIdentity `json:"unresolved"`
}

var (
	// ErrStopNotFound is returned when an edit names an identity the route does not contain
	ErrStopNotFound = errors.New("stop not found")
	// ErrDuplicateStop is returned when adding an identity already on the route
	ErrDuplicateStop = errors.New("stop already on route")
)

// ErrRouteEditFailed is returned when a route edit cannot be applied
type ErrRouteEditFailed struct {
	Op     string
	Reason string
	Err    error
}

func (e *ErrRouteEditFailed) Error() string {
	return fmt.Sprintf("route edit %s failed: %s", e.Op, e.Reason)
}

func (e *ErrRouteEditFailed) Unwrap() error {
	return e.Err
}
