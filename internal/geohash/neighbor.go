package geohash

import (
	"fmt"
	"strings"
)

// Direction names one of the four cardinal neighbours of a tile.
type Direction int

const (
	North Direction = iota
	South
	East
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return "unknown"
	}
}

// Neighbour and border tables indexed by [direction][len(hash)%2]. Even-length
// tiles split latitude last, odd-length tiles longitude last, so the layout of
// the 32 children flips between the two.
var (
	neighbourTable = [4][2]string{
		North: {"p0r21436x8zb9dcf5h7kjnmqesgutwvy", "bc01fg45238967deuvhjyznpkmstqrwx"},
		South: {"14365h7k9dcfesgujnmqp0r2twvyx8zb", "238967debc01fg45kmstqrwxuvhjyznp"},
		East:  {"bc01fg45238967deuvhjyznpkmstqrwx", "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
		West:  {"238967debc01fg45kmstqrwxuvhjyznp", "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
	}
	borderTable = [4][2]string{
		North: {"prxz", "bcfguvyz"},
		South: {"028b", "0145hjnp"},
		East:  {"bcfguvyz", "prxz"},
		West:  {"0145hjnp", "028b"},
	}
)

// Adjacent returns the tile next to hash in direction d, at the same precision.
// East and west wrap across the antimeridian. North of a tile touching the
// north pole (and south of one touching the south pole) is the tile itself.
func Adjacent(hash string, d Direction) (string, error) {
	if hash == "" {
		return "", nil
	}
	if d < North || d > West {
		return "", fmt.Errorf("adjacent %q: unknown direction %d", hash, d)
	}
	box, err := BoundingBox(hash)
	if err != nil {
		return "", err
	}
	if (d == North && box.North >= 90) || (d == South && box.South <= -90) {
		return hash, nil
	}
	return adjacent(hash, d), nil
}

// adjacent walks the lookup tables. hash must be valid and non-empty.
func adjacent(hash string, d Direction) string {
	last := hash[len(hash)-1]
	parent := hash[:len(hash)-1]
	parity := len(hash) % 2

	if strings.IndexByte(borderTable[d][parity], last) >= 0 && parent != "" {
		parent = adjacent(parent, d)
	}
	return parent + string(base32[strings.IndexByte(neighbourTable[d][parity], last)])
}

// Neighbors returns the distinct tiles surrounding hash in the order
// N, NE, E, SE, S, SW, W, NW. Away from the poles there are always eight;
// pole rows yield fewer because the pole-side neighbours collapse onto the
// tile itself, which is never included.
func Neighbors(hash string) ([]string, error) {
	if hash == "" {
		return nil, nil
	}
	n, err := Adjacent(hash, North)
	if err != nil {
		return nil, err
	}
	s, err := Adjacent(hash, South)
	if err != nil {
		return nil, err
	}
	e := adjacent(hash, East)
	w := adjacent(hash, West)

	candidates := []string{
		n,
		adjacent(n, East),
		e,
		adjacent(s, East),
		s,
		adjacent(s, West),
		w,
		adjacent(n, West),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == hash {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
