// Package geo computes geohashes and the geohash prefix ranges that cover a
// circular query region. The remote store only supports single-field range
// queries, so map lookups run as a coarse prefix scan over these ranges
// followed by an exact containment filter.
package geo

import "strings"

// base32 is the geohash alphabet. 'a', 'i', 'l' and 'o' are excluded.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// EncodePrecision is the precision used for the geohash stored on a
// listing. Range-query precision is derived from the query radius instead;
// the two are deliberately independent knobs.
const EncodePrecision = 10

// Neighbor lookup tables, indexed by direction and by the parity of the
// hash length (the bit interleaving alternates lng/lat per character).
var (
	neighborTable = map[byte][2]string{
		'n': {"p0r21436x8zb9dcf5h7kjnmqesgutwvy", "bc01fg45238967deuvhjyznpkmstqrwx"},
		's': {"14365h7k9dcfesgujnmqp0r2twvyx8zb", "238967debc01fg45kmstqrwxuvhjyznp"},
		'e': {"bc01fg45238967deuvhjyznpkmstqrwx", "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
		'w': {"238967debc01fg45kmstqrwxuvhjyznp", "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
	}
	borderTable = map[byte][2]string{
		'n': {"prxz", "bcfguvyz"},
		's': {"028b", "0145hjnp"},
		'e': {"bcfguvyz", "prxz"},
		'w': {"0145hjnp", "028b"},
	}
)

// Encode returns the base-32 geohash of a point at the given precision.
// Deterministic: identical inputs always produce identical output.
func Encode(lat, lng float64, precision int) string {
	if precision <= 0 {
		precision = EncodePrecision
	}
	if precision > 12 {
		precision = 12
	}

	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0

	var hash strings.Builder
	even := true
	bit := 0
	ch := 0

	for hash.Len() < precision {
		if even {
			mid := (minLng + maxLng) / 2
			if lng >= mid {
				ch |= 1 << (4 - bit)
				minLng = mid
			} else {
				maxLng = mid
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
		even = !even
		bit++
		if bit == 5 {
			hash.WriteByte(base32[ch])
			bit = 0
			ch = 0
		}
	}

	return hash.String()
}

// Decode returns the center of the cell a geohash denotes. Inverse of
// Encode up to cell resolution.
func Decode(hash string) (lat, lng float64) {
	minLat, maxLat := -90.0, 90.0
	minLng, maxLng := -180.0, 180.0
	even := true

	for i := 0; i < len(hash); i++ {
		cd := strings.IndexByte(base32, hash[i])
		if cd < 0 {
			continue
		}
		for j := 4; j >= 0; j-- {
			bit := (cd >> j) & 1
			if even {
				mid := (minLng + maxLng) / 2
				if bit == 1 {
					minLng = mid
				} else {
					maxLng = mid
				}
			} else {
				mid := (minLat + maxLat) / 2
				if bit == 1 {
					minLat = mid
				} else {
					maxLat = mid
				}
			}
			even = !even
		}
	}

	return (minLat + maxLat) / 2, (minLng + maxLng) / 2
}

// Neighbor returns the adjacent cell in direction 'n', 's', 'e' or 'w',
// recursing into the parent when the cell sits on its parent's border.
func Neighbor(hash string, direction byte) string {
	if len(hash) == 0 {
		return ""
	}

	hash = strings.ToLower(hash)
	last := hash[len(hash)-1]
	parent := hash[:len(hash)-1]
	parity := len(hash) % 2

	if strings.IndexByte(borderTable[direction][parity], last) >= 0 && parent != "" {
		parent = Neighbor(parent, direction)
	}

	idx := strings.IndexByte(neighborTable[direction][parity], last)
	if idx < 0 {
		return hash
	}
	return parent + string(base32[idx])
}

// neighbors returns the center cell plus its 8 surrounding cells.
func neighbors(hash string) []string {
	n := Neighbor(hash, 'n')
	s := Neighbor(hash, 's')
	return []string{
		hash,
		n, s,
		Neighbor(hash, 'e'),
		Neighbor(hash, 'w'),
		Neighbor(n, 'e'),
		Neighbor(n, 'w'),
		Neighbor(s, 'e'),
		Neighbor(s, 'w'),
	}
}

// HashRange is an inclusive lexical range over the stored geohash field.
type HashRange struct {
	Start string
	End   string
}

// cellMinMeters is the approximate smaller dimension of a geohash cell at
// each precision, used to pick a range-query precision from a radius.
var cellMinMeters = []float64{
	0,       // unused
	4992600, // 1
	624100,  // 2
	156000,  // 3
	19500,   // 4
	4890,    // 5
	610,     // 6
	153,     // 7
	19,      // 8
}

// PrecisionForRadius picks the finest precision whose cell still spans the
// query radius, so a 3x3 block of cells is guaranteed to cover the circle.
func PrecisionForRadius(radiusMeters float64) int {
	for p := len(cellMinMeters) - 1; p >= 1; p-- {
		if cellMinMeters[p] >= radiusMeters {
			return p
		}
	}
	return 1
}

// CoveringRanges returns inclusive geohash ranges whose union contains
// every cell intersecting the circle around (lat, lng). The ranges
// over-cover; callers must post-filter by exact containment. At most 9
// ranges.
func CoveringRanges(lat, lng, radiusMeters float64) []HashRange {
	precision := PrecisionForRadius(radiusMeters)
	center := Encode(lat, lng, precision)

	seen := make(map[string]bool, 9)
	ranges := make([]HashRange, 0, 9)
	for _, cell := range neighbors(center) {
		if cell == "" || seen[cell] {
			continue
		}
		seen[cell] = true
		// '~' sorts after every geohash character, so [cell, cell+"~"]
		// spans all stored hashes with this prefix.
		ranges = append(ranges, HashRange{Start: cell, End: cell + "~"})
	}
	return ranges
}
