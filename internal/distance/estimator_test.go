package distance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/distance"
	"fieldroute/internal/models"
	"fieldroute/internal/testutil"
)

func stop(id string, lat, lng float64) models.RouteStop {
	return models.RouteStop{Identity: models.StopIdentity(id), Coords: &models.Coordinates{Lat: lat, Lng: lng}}
}

func huelvaStops() []models.RouteStop {
	return []models.RouteStop{
		stop("s1", 37.26, -6.94),
		stop("s2", 37.25, -7.20),
		stop("s3", 36.53, -6.29),
	}
}

func assertTotalsMatchSegments(t *testing.T, est *models.Estimate) {
	t.Helper()
	var dist, dur float64
	for _, s := range est.Segments {
		dist += s.DistanceKm
		if s.DurationMin != nil {
			dur += *s.DurationMin
		}
	}
	assert.InDelta(t, dist, est.TotalDistanceKm, 1e-9)
	assert.InDelta(t, dur, est.TotalDurationMin, 1e-9)
}

func TestEstimateOfflineUsesHaversine(t *testing.T) {
	est := distance.NewEstimator(nil, distance.EstimatorOptions{})
	stops := huelvaStops()

	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, models.EstimateModeOffline, result.Mode)
	require.Len(t, result.Segments, 2)
	assert.InDelta(t, distance.Haversine(*stops[0].Coords, *stops[1].Coords), result.Segments[0].DistanceKm, 1e-9)
	assert.InDelta(t, distance.Haversine(*stops[1].Coords, *stops[2].Coords), result.Segments[1].DistanceKm, 1e-9)
	for _, s := range result.Segments {
		assert.Nil(t, s.DurationMin)
	}
	assert.Zero(t, result.TotalDurationMin)
	assertTotalsMatchSegments(t, result)
}

func TestEstimateOnlineUsesCalculator(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	stops := huelvaStops()
	calc.SetDistance(*stops[0].Coords, *stops[1].Coords, 27400, 1320)
	calc.SetDistance(*stops[1].Coords, *stops[2].Coords, 150000, 5400)

	est := distance.NewEstimator(calc, distance.EstimatorOptions{Mode: models.EstimateModeOnline})
	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, models.EstimateModeOnline, result.Mode)
	assert.InDelta(t, 27.4, result.Segments[0].DistanceKm, 1e-9)
	require.NotNil(t, result.Segments[1].DurationMin)
	assert.InDelta(t, 90.0, *result.Segments[1].DurationMin, 1e-9)
	assert.InDelta(t, 177.4, result.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 112.0, result.TotalDurationMin, 1e-9)
	assert.False(t, result.Degraded)
	assertTotalsMatchSegments(t, result)
}

func TestEstimateOnlineSegmentFailureKeepsOthers(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	stops := huelvaStops()
	calc.SetError(*stops[0].Coords, *stops[1].Coords, &distance.ErrDistanceCalculationFailed{Reason: "NoRoute"})

	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, models.EstimateModeOnline, result.Mode)
	assert.True(t, result.Degraded)
	assert.Zero(t, result.Segments[0].DistanceKm)
	assert.Contains(t, result.Segments[0].Error, "NoRoute")
	assert.Empty(t, result.Segments[1].Error)
	assert.Positive(t, result.Segments[1].DistanceKm)
	assertTotalsMatchSegments(t, result)
	assert.Equal(t, models.EstimateModeOnline, est.Mode())
}

func TestEstimateUnavailableFlipsToOffline(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	calc.Err = &distance.ErrDistanceCalculationFailed{Reason: "HTTP 503", Unavailable: true}

	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	stops := huelvaStops()

	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, models.EstimateModeOffline, result.Mode)
	assert.True(t, result.Degraded)
	assert.InDelta(t, distance.Haversine(*stops[0].Coords, *stops[1].Coords), result.Segments[0].DistanceKm, 1e-9)
	assert.Equal(t, models.EstimateModeOffline, est.Mode())

	// stays offline for the rest of the session
	calc.ResetCalls()
	other := []models.RouteStop{stop("a", 1, 1), stop("b", 2, 2)}
	_, err = est.EstimateSegments(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, calc.Calls())
}

func TestEstimateUnresolvedSegments(t *testing.T) {
	est := distance.NewEstimator(nil, distance.EstimatorOptions{})
	stops := []models.RouteStop{
		stop("s1", 37.26, -6.94),
		{Identity: "lost"},
		stop("s3", 36.53, -6.29),
	}

	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	for _, s := range result.Segments {
		assert.Equal(t, distance.SegmentErrorUnresolved, s.Error)
		assert.Zero(t, s.DistanceKm)
	}
	assert.Zero(t, result.TotalDistanceKm)
	assert.True(t, result.Degraded)
}

func TestEstimateTrivialRoutes(t *testing.T) {
	est := distance.NewEstimator(nil, distance.EstimatorOptions{})

	result, err := est.EstimateSegments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Segments)

	result, err = est.EstimateSegments(context.Background(), []models.RouteStop{stop("only", 1, 1)})
	require.NoError(t, err)
	assert.Empty(t, result.Segments)
	assert.Zero(t, result.TotalDistanceKm)
}

func TestEstimateMemoizedBySignature(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	stops := huelvaStops()

	first, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)
	second, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, calc.Calls(), 2, "second request must come from memo")

	// callers get their own copy
	second.Segments[0].DistanceKm = -1
	third, _ := est.EstimateSegments(context.Background(), stops)
	assert.Equal(t, first.Segments[0].DistanceKm, third.Segments[0].DistanceKm)

	est.Forget(first.Signature)
	_, err = est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)
	assert.Len(t, calc.Calls(), 4)
}

func TestEstimateMemoIsBounded(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	est := distance.NewEstimator(calc, distance.EstimatorOptions{MemoSize: 1})

	a := []models.RouteStop{stop("a", 1, 1), stop("b", 2, 2)}
	b := []models.RouteStop{stop("c", 3, 3), stop("d", 4, 4)}

	_, _ = est.EstimateSegments(context.Background(), a)
	_, _ = est.EstimateSegments(context.Background(), b)
	_, _ = est.EstimateSegments(context.Background(), a)

	assert.Len(t, calc.Calls(), 3, "a was evicted by b")
}

// slowCalculator blocks until released so concurrent callers overlap
type slowCalculator struct {
	*testutil.MockDistanceCalculator
	release chan struct{}
}

func (s *slowCalculator) GetDistance(ctx context.Context, origin, dest models.Coordinates) (*distance.DistanceResult, error) {
	<-s.release
	return s.MockDistanceCalculator.GetDistance(ctx, origin, dest)
}

func TestEstimateConcurrentCallsShareComputation(t *testing.T) {
	calc := &slowCalculator{MockDistanceCalculator: testutil.NewMockDistanceCalculator(), release: make(chan struct{})}
	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	stops := []models.RouteStop{stop("a", 1, 1), stop("b", 2, 2)}

	var wg sync.WaitGroup
	results := make([]*models.Estimate, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := est.EstimateSegments(context.Background(), stops)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(calc.release)
	wg.Wait()

	assert.Len(t, calc.Calls(), 1)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].TotalDistanceKm, r.TotalDistanceKm)
	}
}

// gatedCalculator blocks until released or until its context is done
type gatedCalculator struct {
	*testutil.MockDistanceCalculator
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCalculator) GetDistance(ctx context.Context, origin, dest models.Coordinates) (*distance.DistanceResult, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MockDistanceCalculator.GetDistance(ctx, origin, dest)
}

func TestEstimateSharedCallSurvivesFirstCallerCancelling(t *testing.T) {
	calc := &gatedCalculator{
		MockDistanceCalculator: testutil.NewMockDistanceCalculator(),
		started:                make(chan struct{}),
		release:                make(chan struct{}),
	}
	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	stops := []models.RouteStop{stop("a", 1, 1), stop("b", 2, 2)}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := est.EstimateSegments(ctx, stops)
		firstErr <- err
	}()
	<-calc.started

	type outcome struct {
		est *models.Estimate
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := est.EstimateSegments(context.Background(), stops)
		second <- outcome{r, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(calc.release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.est)
	require.Len(t, got.est.Segments, 1)
	assert.Empty(t, got.est.Segments[0].Error)
	assert.Len(t, calc.Calls(), 1)
}

func TestEstimateFallbackIsNotRememberedAsDegraded(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	calc.Err = &distance.ErrDistanceCalculationFailed{Reason: "HTTP 503", Unavailable: true}
	est := distance.NewEstimator(calc, distance.EstimatorOptions{})
	stops := huelvaStops()

	fallback, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)
	assert.True(t, fallback.Degraded)

	again, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)
	assert.Equal(t, models.EstimateModeOffline, again.Mode)
	assert.False(t, again.Degraded)
	assert.Equal(t, fallback.TotalDistanceKm, again.TotalDistanceKm)
}

func TestEstimateCancelled(t *testing.T) {
	calc := testutil.NewMockDistanceCalculator()
	est := distance.NewEstimator(calc, distance.EstimatorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := est.EstimateSegments(ctx, huelvaStops())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSignatureDependsOnOrderAndMode(t *testing.T) {
	stops := huelvaStops()
	reversed := []models.RouteStop{stops[2], stops[1], stops[0]}

	assert.Equal(t, distance.Signature(stops, models.EstimateModeOnline), distance.Signature(huelvaStops(), models.EstimateModeOnline))
	assert.NotEqual(t, distance.Signature(stops, models.EstimateModeOnline), distance.Signature(reversed, models.EstimateModeOnline))
	assert.NotEqual(t, distance.Signature(stops, models.EstimateModeOnline), distance.Signature(stops, models.EstimateModeOffline))
}

func TestApplyWritesMetricsOntoRoute(t *testing.T) {
	est := distance.NewEstimator(nil, distance.EstimatorOptions{})
	route := &models.Route{Stops: huelvaStops()}
	route.Renumber()

	result, err := est.EstimateSegments(context.Background(), route.Stops)
	require.NoError(t, err)
	require.NoError(t, distance.Apply(route, result))

	assert.Nil(t, route.Stops[0].DistanceFromPrevKm)
	require.NotNil(t, route.Stops[1].DistanceFromPrevKm)
	assert.InDelta(t, result.Segments[0].DistanceKm, *route.Stops[1].DistanceFromPrevKm, 1e-9)
	assert.Nil(t, route.Stops[2].DurationFromPrevMin)
	assert.InDelta(t, result.TotalDistanceKm, route.TotalDistanceKm, 1e-9)
	assert.Zero(t, route.TotalDurationMin)
}

func TestApplyRejectsStaleEstimate(t *testing.T) {
	est := distance.NewEstimator(nil, distance.EstimatorOptions{})
	stops := huelvaStops()

	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	reordered := &models.Route{Stops: []models.RouteStop{stops[1], stops[0], stops[2]}}
	assert.ErrorIs(t, distance.Apply(reordered, result), distance.ErrStaleEstimate)

	shorter := &models.Route{Stops: stops[:2]}
	assert.ErrorIs(t, distance.Apply(shorter, result), distance.ErrStaleEstimate)
}

func TestHuelvaScenarioOffline(t *testing.T) {
	// sequenced order from a start near the first two customers
	stops := huelvaStops()
	est := distance.NewEstimator(nil, distance.EstimatorOptions{Mode: models.EstimateModeOffline})

	result, err := est.EstimateSegments(context.Background(), stops)
	require.NoError(t, err)

	want := distance.Haversine(*stops[0].Coords, *stops[1].Coords) + distance.Haversine(*stops[1].Coords, *stops[2].Coords)
	assert.InDelta(t, want, result.TotalDistanceKm, 1e-9)
}
