package routing

import (
	"log"

	"fieldroute/internal/distance"
	"fieldroute/internal/models"
)

// Sequence orders stops by greedy nearest neighbour starting from start,
// using great-circle distance. Ties go to the stop that comes first in the
// input. Stops without coordinates are appended in their input order. When
// no stop has coordinates the input order is returned with Optimized false.
func Sequence(stops []SequenceStop, start models.Coordinates) SequenceResult {
	result := SequenceResult{
		Order:      make([]models.StopIdentity, 0, len(stops)),
		Unresolved: []models.StopIdentity{},
	}

	resolved := make([]SequenceStop, 0, len(stops))
	for _, s := range stops {
		if s.Coords == nil {
			result.Unresolved = append(result.Unresolved, s.Identity)
			continue
		}
		resolved = append(resolved, s)
	}

	if len(resolved) == 0 {
		for _, s := range stops {
			result.Order = append(result.Order, s.Identity)
		}
		log.Printf("[ROUTING] No resolved stops, keeping input order: stops=%d", len(stops))
		return result
	}

	visited := make([]bool, len(resolved))
	current := start
	var totalKm float64

	for range resolved {
		idx, dist := findNearest(current, resolved, visited)
		visited[idx] = true
		totalKm += dist
		current = *resolved[idx].Coords
		result.Order = append(result.Order, resolved[idx].Identity)
	}

	result.Order = append(result.Order, result.Unresolved...)
	result.Optimized = true

	log.Printf("[ROUTING] Sequenced: stops=%d resolved=%d unresolved=%d greedy_km=%.2f",
		len(stops), len(resolved), len(result.Unresolved), totalKm)
	return result
}

// findNearest returns the index of the closest unvisited stop. Strict less-than
// keeps the earliest stop on ties.
func findNearest(from models.Coordinates, stops []SequenceStop, visited []bool) (int, float64) {
	best := -1
	minDistance := -1.0

	for i, s := range stops {
		if visited[i] {
			continue
		}
		d := distance.Haversine(from, *s.Coords)
		if minDistance < 0 || d < minDistance {
			minDistance = d
			best = i
		}
	}

	return best, minDistance
}

// StopsForSequencing extracts the sequencer input from a route's stops
func StopsForSequencing(stops []models.RouteStop) []SequenceStop {
	out := make([]SequenceStop, len(stops))
	for i, s := range stops {
		out[i] = SequenceStop{Identity: s.Identity, Coords: s.Coords}
	}
	return out
}
