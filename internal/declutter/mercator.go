package declutter

import (
	"math"

	"fieldroute/internal/models"
)

// TileSize is the pixel width of one Web Mercator tile
const TileSize = 256

// maxLatitude is where the Web Mercator square ends
const maxLatitude = 85.05112878

// worldSize returns the width in pixels of the whole map at zoom.
// Fractional zooms are allowed.
func worldSize(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

// project converts a lat/lng into world pixel coordinates at the given zoom
func project(lat, lng, zoom float64) (x, y float64) {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	lng = math.Max(-180, math.Min(180, lng))

	latRad := lat * math.Pi / 180
	size := worldSize(zoom)

	x = (lng + 180) / 360 * size
	y = (0.5 - math.Log(math.Tan(latRad*0.5+math.Pi/4))/(2*math.Pi)) * size
	return x, y
}

// unproject converts world pixel coordinates back to a lat/lng. x wraps
// across the antimeridian and y is held inside the map square.
func unproject(x, y, zoom float64) models.Coordinates {
	size := worldSize(zoom)
	x = math.Mod(x, size)
	if x < 0 {
		x += size
	}
	y = math.Max(0, math.Min(size, y))

	n := math.Pi * (1 - 2*y/size)
	return models.Coordinates{
		Lat: math.Atan(math.Sinh(n)) * 180 / math.Pi,
		Lng: x/size*360 - 180,
	}
}
