// Package coverage finds the set of geohash tiles that covers a circle around
// an observer at the finest precision a subscription budget allows.
package coverage

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/geohash"
)

// DefaultBudget is the maximum number of tiles in a coverage.
const DefaultBudget = 9

// kmPerDegree approximates one degree of latitude as 40000 km / 360.
const kmPerDegree = 40000.0 / 360.0

var (
	// ErrRadius is returned for a radius that is not a positive number.
	ErrRadius = errors.New("radius must be positive")

	// ErrBudget is returned for a tile budget below one.
	ErrBudget = errors.New("tile budget must be at least 1")
)

// Coverage is a set of tiles of one precision. Tiles are sorted.
// Precision 0 is the whole world, represented by the single empty tile.
type Coverage struct {
	Precision int      `json:"precision"`
	Tiles     []string `json:"tiles"`
}

// Len returns the number of tiles.
func (c Coverage) Len() int { return len(c.Tiles) }

// Contains reports whether tile is part of c.
func (c Coverage) Contains(tile string) bool {
	_, found := slices.BinarySearch(c.Tiles, tile)
	return found
}

// Equal reports whether c and o hold the same tiles.
func (c Coverage) Equal(o Coverage) bool {
	return slices.Equal(c.Tiles, o.Tiles)
}

// Bounds approximates the circle of radiusKm around center by a rectangle:
// lat_delta = r*360/40000 and lon_delta = lat_delta/cos(lat). Near the poles,
// where cos(lat) vanishes, the rectangle spans every longitude.
func Bounds(center domain.GeoPoint, radiusKm float64) geohash.Box {
	latDelta := radiusKm / kmPerDegree
	lonDelta := 180.0
	if c := math.Cos(center.Lat * math.Pi / 180); c > 0 {
		lonDelta = math.Min(latDelta/c, 180)
	}
	return geohash.Box{
		South: center.Lat - latDelta,
		West:  center.Lon - lonDelta,
		North: center.Lat + latDelta,
		East:  center.Lon + lonDelta,
	}
}

// region is a target rectangle that may extend past the antimeridian.
type region geohash.Box

// overlaps reports whether a tile box strictly overlaps the region, also
// testing the region shifted by a full turn so tiles on the far side of the
// antimeridian are matched.
func (r region) overlaps(tile geohash.Box) bool {
	for _, shift := range [...]float64{0, 360, -360} {
		b := geohash.Box{South: r.South, West: r.West + shift, North: r.North, East: r.East + shift}
		if b.Overlaps(tile) {
			return true
		}
	}
	return false
}

// Solve returns the coverage of the circle of radiusKm around center. It
// tries precisions 1 through 12 and keeps the finest one whose tile count is
// within budget, stopping at the first precision that exceeds it. When even
// precision 1 exceeds the budget the whole world is returned.
func Solve(center domain.GeoPoint, radiusKm float64, budget int) (Coverage, error) {
	if err := center.Validate(); err != nil {
		return Coverage{}, fmt.Errorf("solve coverage: %w", err)
	}
	if !(radiusKm > 0) || math.IsInf(radiusKm, 1) {
		return Coverage{}, fmt.Errorf("solve coverage: %v km: %w", radiusKm, ErrRadius)
	}
	if budget < 1 {
		return Coverage{}, fmt.Errorf("solve coverage: budget %d: %w", budget, ErrBudget)
	}

	target := region(Bounds(center, radiusKm))
	best := Coverage{Precision: 0, Tiles: []string{""}}

	for precision := 1; precision <= geohash.MaxPrecision; precision++ {
		tiles, ok, err := floodFill(center, precision, target, budget)
		if err != nil {
			return Coverage{}, fmt.Errorf("solve coverage at precision %d: %w", precision, err)
		}
		if !ok {
			break
		}
		slices.Sort(tiles)
		best = Coverage{Precision: precision, Tiles: tiles}
	}
	return best, nil
}

// floodFill collects every tile of the given precision that overlaps target
// and is connected to the tile containing center. It gives up, returning
// false, as soon as more than limit tiles are found.
func floodFill(center domain.GeoPoint, precision int, target region, limit int) ([]string, bool, error) {
	start, err := geohash.Encode(center.Lat, center.Lon, precision)
	if err != nil {
		return nil, false, err
	}

	tiles := []string{start}
	seen := map[string]struct{}{start: {}}
	frontier := []string{start}

	for len(frontier) > 0 {
		tile := frontier[0]
		frontier = frontier[1:]

		neighbours, err := geohash.Neighbors(tile)
		if err != nil {
			return nil, false, err
		}
		for _, n := range neighbours {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}

			box, err := geohash.BoundingBox(n)
			if err != nil {
				return nil, false, err
			}
			if !target.overlaps(box) {
				continue
			}
			tiles = append(tiles, n)
			if len(tiles) > limit {
				return nil, false, nil
			}
			frontier = append(frontier, n)
		}
	}
	return tiles, true, nil
}
