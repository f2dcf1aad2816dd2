package distance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"fieldroute/internal/metrics"
	"fieldroute/internal/models"
)

// SegmentErrorUnresolved marks a segment touching a stop without coordinates
const SegmentErrorUnresolved = "unresolved"

// DefaultMemoSize bounds how many finished estimates are remembered
const DefaultMemoSize = 128

// ErrStaleEstimate is returned by Apply when the estimate was computed for a different stop order
var ErrStaleEstimate = errors.New("estimate does not match route stops")

// EstimatorOptions configures an Estimator
type EstimatorOptions struct {
	// Mode is the configured starting mode; offline never calls the calculator
	Mode     models.EstimateMode
	MemoSize int
}

// Estimator computes per-segment distance and duration for an ordered list
// of stops. Identical requests in flight share one computation and finished
// results are memoized by signature.
type Estimator struct {
	calc  DistanceCalculator
	group singleflight.Group

	mu        sync.Mutex
	offline   bool
	memo      map[string]*models.Estimate
	memoOrder []string
	memoSize  int
}

// NewEstimator creates an estimator. A nil calculator forces offline mode.
func NewEstimator(calc DistanceCalculator, opts EstimatorOptions) *Estimator {
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	e := &Estimator{
		calc:     calc,
		offline:  calc == nil || opts.Mode == models.EstimateModeOffline,
		memo:     make(map[string]*models.Estimate),
		memoSize: opts.MemoSize,
	}
	if e.offline {
		metrics.EstimatorOffline.Set(1)
	}
	return e
}

// Mode reports the mode the next estimate will use
func (e *Estimator) Mode() models.EstimateMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline {
		return models.EstimateModeOffline
	}
	return models.EstimateModeOnline
}

func (e *Estimator) goOffline(reason error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.offline {
		log.Printf("[ESTIMATOR] Driving distance service unavailable, switching to offline: err=%v", reason)
		e.offline = true
		metrics.EstimatorOffline.Set(1)
	}
}

// Signature identifies an estimate request by mode, stop order and coordinates
func Signature(stops []models.RouteStop, mode models.EstimateMode) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", mode)
	for _, s := range stops {
		if s.Coords == nil {
			fmt.Fprintf(h, "%s|-\n", s.Identity)
			continue
		}
		fmt.Fprintf(h, "%s|%.5f,%.5f\n", s.Identity,
			models.RoundCoordinate(s.Coords.Lat), models.RoundCoordinate(s.Coords.Lng))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateSegments returns the segment metrics for stops in the given order.
// It only fails when ctx is cancelled; per-segment problems are reported on
// the segments themselves. A shared computation outlives a caller that gives
// up, so the remaining callers still get the result.
func (e *Estimator) EstimateSegments(ctx context.Context, stops []models.RouteStop) (*models.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := e.Mode()
	sig := Signature(stops, mode)

	if cached := e.lookup(sig); cached != nil {
		metrics.Estimates.WithLabelValues(string(mode), "memo").Inc()
		return cached, nil
	}

	flight := context.WithoutCancel(ctx)
	ch := e.group.DoChan(sig, func() (interface{}, error) {
		est, err := e.compute(flight, stops, mode)
		if err != nil {
			return nil, err
		}
		e.remember(est)
		return est, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	est := res.Val.(*models.Estimate)
	source := "computed"
	if res.Shared {
		source = "shared"
	}
	metrics.Estimates.WithLabelValues(string(est.Mode), source).Inc()
	return cloneEstimate(est), nil
}

// Forget drops a memoized estimate so the next request recomputes it
func (e *Estimator) Forget(sig string) {
	e.group.Forget(sig)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.memo[sig]; !ok {
		return
	}
	delete(e.memo, sig)
	for i, s := range e.memoOrder {
		if s == sig {
			e.memoOrder = append(e.memoOrder[:i], e.memoOrder[i+1:]...)
			break
		}
	}
}

func (e *Estimator) lookup(sig string) *models.Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	if est, ok := e.memo[sig]; ok {
		return cloneEstimate(est)
	}
	return nil
}

// remember stores est under its own signature, evicting the oldest entry when
// full. The memo keeps only what the segments say: a fallback flagged degraded
// because the service failed is remembered as a plain offline estimate.
func (e *Estimator) remember(est *models.Estimate) {
	stored := cloneEstimate(est)
	stored.Degraded = hasSegmentErrors(stored)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.memo[stored.Signature]; !ok {
		e.memoOrder = append(e.memoOrder, stored.Signature)
	}
	e.memo[stored.Signature] = stored

	for len(e.memoOrder) > e.memoSize {
		oldest := e.memoOrder[0]
		e.memoOrder = e.memoOrder[1:]
		delete(e.memo, oldest)
	}
}

func hasSegmentErrors(est *models.Estimate) bool {
	for _, seg := range est.Segments {
		if seg.Error != "" {
			return true
		}
	}
	return false
}

func (e *Estimator) compute(ctx context.Context, stops []models.RouteStop, mode models.EstimateMode) (*models.Estimate, error) {
	if mode == models.EstimateModeOffline {
		return estimateOffline(stops), nil
	}

	est := &models.Estimate{
		Signature: Signature(stops, mode),
		Mode:      models.EstimateModeOnline,
		Segments:  make([]models.Segment, 0, segmentCount(stops)),
	}

	legs, legIndex := routeLegs(stops)
	results, errs := e.priceLegs(ctx, legs)

	for i := 1; i < len(stops); i++ {
		from, to := stops[i-1], stops[i]
		seg := models.Segment{FromIdentity: from.Identity, ToIdentity: to.Identity}

		k := legIndex[i-1]
		if k < 0 {
			seg.Error = SegmentErrorUnresolved
			est.Degraded = true
			est.Segments = append(est.Segments, seg)
			continue
		}

		if err := errs[k]; err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			var calcErr *ErrDistanceCalculationFailed
			if errors.As(err, &calcErr) && calcErr.Unavailable {
				e.goOffline(err)
				fallback := estimateOffline(stops)
				fallback.Degraded = true
				return fallback, nil
			}

			log.Printf("[ESTIMATOR] Segment failed: from=%s to=%s err=%v", from.Identity, to.Identity, err)
			seg.Error = err.Error()
			est.Degraded = true
			est.Segments = append(est.Segments, seg)
			continue
		}

		result := results[k]
		if result == nil {
			seg.Error = "not priced"
			est.Degraded = true
			est.Segments = append(est.Segments, seg)
			continue
		}
		seg.DistanceKm = result.DistanceMeters / 1000
		minutes := result.DurationSecs / 60
		seg.DurationMin = &minutes
		est.Segments = append(est.Segments, seg)
	}

	est.RecomputeTotals()
	return est, nil
}

// routeLegs lists the segments whose both ends are placed. legIndex maps each
// segment to its leg, or -1 when an end is unresolved.
func routeLegs(stops []models.RouteStop) ([]Leg, []int) {
	legs := make([]Leg, 0, segmentCount(stops))
	legIndex := make([]int, segmentCount(stops))
	for i := 1; i < len(stops); i++ {
		from, to := stops[i-1], stops[i]
		if from.Coords == nil || to.Coords == nil {
			legIndex[i-1] = -1
			continue
		}
		legIndex[i-1] = len(legs)
		legs = append(legs, Leg{Origin: *from.Coords, Dest: *to.Coords})
	}
	return legs, legIndex
}

// priceLegs asks the calculator for every leg, in one call when it can price a
// whole route. Legs after an unavailable-service failure are not attempted.
func (e *Estimator) priceLegs(ctx context.Context, legs []Leg) ([]*DistanceResult, []error) {
	if rc, ok := e.calc.(RouteCalculator); ok {
		return rc.GetRouteDistances(ctx, legs)
	}

	results := make([]*DistanceResult, len(legs))
	errs := make([]error, len(legs))
	for i, leg := range legs {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		results[i], errs[i] = e.calc.GetDistance(ctx, leg.Origin, leg.Dest)

		var calcErr *ErrDistanceCalculationFailed
		if errors.As(errs[i], &calcErr) && calcErr.Unavailable {
			break
		}
	}
	return results, errs
}

// estimateOffline uses great-circle distances and leaves durations unset
func estimateOffline(stops []models.RouteStop) *models.Estimate {
	est := &models.Estimate{
		Signature: Signature(stops, models.EstimateModeOffline),
		Mode:      models.EstimateModeOffline,
		Segments:  make([]models.Segment, 0, segmentCount(stops)),
	}

	for i := 1; i < len(stops); i++ {
		from, to := stops[i-1], stops[i]
		seg := models.Segment{FromIdentity: from.Identity, ToIdentity: to.Identity}
		if from.Coords == nil || to.Coords == nil {
			seg.Error = SegmentErrorUnresolved
			est.Degraded = true
		} else {
			seg.DistanceKm = Haversine(*from.Coords, *to.Coords)
		}
		est.Segments = append(est.Segments, seg)
	}

	est.RecomputeTotals()
	return est
}

func segmentCount(stops []models.RouteStop) int {
	if len(stops) < 2 {
		return 0
	}
	return len(stops) - 1
}

// Apply writes segment metrics onto the route's stops and recomputes totals.
// The first stop is the origin and carries no metrics.
func Apply(route *models.Route, est *models.Estimate) error {
	if route == nil || est == nil {
		return ErrStaleEstimate
	}
	if len(est.Segments) != segmentCount(route.Stops) {
		return ErrStaleEstimate
	}
	for i, seg := range est.Segments {
		if route.Stops[i].Identity != seg.FromIdentity || route.Stops[i+1].Identity != seg.ToIdentity {
			return ErrStaleEstimate
		}
	}

	route.ClearMetrics()
	for i, seg := range est.Segments {
		stop := &route.Stops[i+1]
		if seg.Error != "" {
			stop.SegmentError = seg.Error
			continue
		}
		d := seg.DistanceKm
		stop.DistanceFromPrevKm = &d
		if seg.DurationMin != nil {
			m := *seg.DurationMin
			stop.DurationFromPrevMin = &m
		}
	}
	route.RecomputeTotals()
	return nil
}

func cloneEstimate(est *models.Estimate) *models.Estimate {
	out := *est
	out.Segments = make([]models.Segment, len(est.Segments))
	for i, s := range est.Segments {
		out.Segments[i] = s
		if s.DurationMin != nil {
			m := *s.DurationMin
			out.Segments[i].DurationMin = &m
		}
	}
	return &out
}
