// Package geohash encodes coordinates into base-32 geohash tiles, decodes tiles
// back into their bounding boxes, and walks the tile grid through the standard
// neighbour lookup tables.
//
// A tile of precision n covers a rectangle obtained by 5n alternating binary
// subdivisions of the globe, longitude first. Tiles that share a prefix are
// nested: "u0" lies inside "u". The empty tile "" is the whole world.
package geohash

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxPrecision is the longest tile the codec produces.
const MaxPrecision = 12

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

var (
	// ErrOutOfRange is returned when a coordinate lies outside [-90,90]x[-180,180].
	ErrOutOfRange = errors.New("coordinate out of range")

	// ErrPrecision is returned for a precision outside [1, MaxPrecision].
	ErrPrecision = errors.New("precision out of range")

	// ErrInvalidHash is returned for tiles containing characters outside the alphabet.
	ErrInvalidHash = errors.New("invalid geohash")
)

// Box is the rectangle a tile covers, in degrees.
type Box struct {
	South float64
	West  float64
	North float64
	East  float64
}

// World is the bounding box of the empty tile.
var World = Box{South: -90, West: -180, North: 90, East: 180}

// Overlaps reports whether both axis intervals of b and o overlap. Boxes that
// only share an edge do not overlap.
func (b Box) Overlaps(o Box) bool {
	return b.South < o.North && b.North > o.South &&
		b.West < o.East && b.East > o.West
}

// Contains reports whether the point lies inside b, edges included.
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Encode returns the tile of the given precision containing (lat, lon).
// Coordinates are rejected, not clamped, when out of range.
func Encode(lat, lon float64, precision int) (string, error) {
	if precision < 1 || precision > MaxPrecision {
		return "", fmt.Errorf("encode precision %d: %w", precision, ErrPrecision)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || math.IsNaN(lat) || math.IsNaN(lon) {
		return "", fmt.Errorf("encode (%v, %v): %w", lat, lon, ErrOutOfRange)
	}

	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	var b strings.Builder
	b.Grow(precision)

	evenBit := true
	bit, ch := 0, 0
	for b.Len() < precision {
		if evenBit {
			mid := (minLon + maxLon) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				minLon = mid
			} else {
				maxLon = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			b.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return b.String(), nil
}

// BoundingBox decodes a tile into the exact rectangle it represents.
func BoundingBox(hash string) (Box, error) {
	box := World
	evenBit := true
	for i := 0; i < len(hash); i++ {
		idx := strings.IndexByte(base32, hash[i])
		if idx < 0 {
			return Box{}, fmt.Errorf("decode %q: %w", hash, ErrInvalidHash)
		}
		for n := 4; n >= 0; n-- {
			bitN := (idx >> n) & 1
			if evenBit {
				mid := (box.West + box.East) / 2
				if bitN == 1 {
					box.West = mid
				} else {
					box.East = mid
				}
			} else {
				mid := (box.South + box.North) / 2
				if bitN == 1 {
					box.South = mid
				} else {
					box.North = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return box, nil
}
