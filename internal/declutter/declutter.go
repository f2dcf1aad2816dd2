// Package declutter spreads markers that would overlap on screen around
// their shared centroid. The output is for rendering only; stored
// coordinates are never touched.
package declutter

import (
	"math"

	"fieldroute/internal/models"
)

// Options holds the pixel constants of the declutter pass
type Options struct {
	// PixelThreshold is the distance under which two markers join a cluster
	PixelThreshold float64 `yaml:"pixel_threshold" json:"pixel_threshold"`
	// BaseRadiusPx is the spread radius for a cluster of two
	BaseRadiusPx float64 `yaml:"base_radius_px" json:"base_radius_px"`
	// GrowthPx is added to the radius for every member past the first
	GrowthPx float64 `yaml:"growth_px" json:"growth_px"`
	// MaxRadiusPx caps the spread radius
	MaxRadiusPx float64 `yaml:"max_radius_px" json:"max_radius_px"`
}

// DefaultOptions returns the defaults; 28px is about one marker diameter
func DefaultOptions() Options {
	return Options{
		PixelThreshold: 28,
		BaseRadiusPx:   18,
		GrowthPx:       4,
		MaxRadiusPx:    60,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o == (Options{}) {
		return d
	}
	if o.PixelThreshold <= 0 {
		o.PixelThreshold = d.PixelThreshold
	}
	if o.BaseRadiusPx <= 0 {
		o.BaseRadiusPx = d.BaseRadiusPx
	}
	if o.GrowthPx < 0 {
		o.GrowthPx = d.GrowthPx
	}
	if o.MaxRadiusPx <= 0 {
		o.MaxRadiusPx = d.MaxRadiusPx
	}
	return o
}

// RadiusPx is the spread radius for a cluster of k members
func (o Options) RadiusPx(k int) float64 {
	o = o.withDefaults()
	return math.Min(o.BaseRadiusPx+o.GrowthPx*float64(k-1), o.MaxRadiusPx)
}

type projected struct {
	index int
	x, y  float64
}

// Declutter returns one render point per input point, in input order.
// Points in the same group that sit within PixelThreshold of each other,
// directly or through a chain of neighbours, form a cluster whose members
// are placed evenly on a circle around the cluster centroid, first member
// due north. Single points and points with invalid coordinates pass
// through unchanged.
func Declutter(points []models.MarkerPoint, vp models.Viewport, opts Options) []models.RenderPoint {
	opts = opts.withDefaults()

	out := make([]models.RenderPoint, len(points))
	groups := make(map[string][]projected)
	var groupOrder []string

	for i, p := range points {
		out[i] = models.RenderPoint{Identity: p.Identity, Coords: p.Coords}
		if !p.Coords.Valid() {
			continue
		}

		x, y := toViewport(p.Coords, vp)
		if _, ok := groups[p.GroupKey]; !ok {
			groupOrder = append(groupOrder, p.GroupKey)
		}
		groups[p.GroupKey] = append(groups[p.GroupKey], projected{index: i, x: x, y: y})
	}

	for _, key := range groupOrder {
		for _, cluster := range clusterGroup(groups[key], opts.PixelThreshold) {
			if len(cluster) < 2 {
				continue
			}
			spread(points, out, cluster, vp.Zoom, opts)
		}
	}

	return out
}

// toViewport projects into pixels relative to the viewport's top-left corner
func toViewport(c models.Coordinates, vp models.Viewport) (float64, float64) {
	x, y := project(c.Lat, c.Lng, vp.Zoom)
	cx, cy := project(vp.Center.Lat, vp.Center.Lng, vp.Zoom)
	return x - cx + float64(vp.WidthPx)/2, y - cy + float64(vp.HeightPx)/2
}

// clusterGroup performs single-link clustering with union-find and returns
// clusters as lists of input indexes, each in input order
func clusterGroup(members []projected, threshold float64) [][]int {
	uf := newUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if math.Hypot(members[i].x-members[j].x, members[i].y-members[j].y) < threshold {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i, m := range members {
		root := uf.find(i)
		if _, ok := byRoot[root]; !ok {
			roots = append(roots, root)
		}
		byRoot[root] = append(byRoot[root], m.index)
	}

	clusters := make([][]int, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, byRoot[root])
	}
	return clusters
}

// spread places cluster members on a circle around their geographic
// centroid. Offsets are applied in world pixels and projected back, so render
// points stay on the map near the antimeridian and the poles.
func spread(points []models.MarkerPoint, out []models.RenderPoint, cluster []int, zoom float64, opts Options) {
	var sumLat, sumLng float64
	for _, idx := range cluster {
		sumLat += points[idx].Coords.Lat
		sumLng += points[idx].Coords.Lng
	}
	k := len(cluster)
	cx, cy := project(sumLat/float64(k), sumLng/float64(k), zoom)
	radiusPx := opts.RadiusPx(k)

	for n, idx := range cluster {
		// -pi/2 is screen up, which is north
		angle := -math.Pi/2 + 2*math.Pi*float64(n)/float64(k)
		out[idx] = models.RenderPoint{
			Identity:  points[idx].Identity,
			Coords:    unproject(cx+radiusPx*math.Cos(angle), cy+radiusPx*math.Sin(angle), zoom),
			Displaced: true,
		}
	}
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
