// Package binning quantizes coordinates into d∞ bins of width 2δ, so that two
// values at distance at most δ land in the same or in adjacent bins.
package binning

import (
	"math"
	"sort"
)

// Bin identifies one quantization bucket.
type Bin uint64

func width(delta uint64) uint64 {
	if delta == 0 {
		return 1
	}
	if delta > math.MaxUint64/2 {
		return math.MaxUint64
	}
	return 2 * delta
}

// BinOf returns ⌊v / 2δ⌋. A zero δ makes every value its own bin.
func BinOf(v, delta uint64) Bin {
	return Bin(v / width(delta))
}

// window returns [v−δ, v+δ] clamped to the uint64 range.
func window(v, delta uint64) (lo, hi uint64) {
	lo = 0
	if v > delta {
		lo = v - delta
	}
	hi = math.MaxUint64
	if v <= math.MaxUint64-delta {
		hi = v + delta
	}
	return lo, hi
}

// NearBins returns every bin touched by a value within δ of v, ascending.
func NearBins(v, delta uint64) []Bin {
	lo, hi := window(v, delta)
	first, last := BinOf(lo, delta), BinOf(hi, delta)
	bins := make([]Bin, 0, last-first+1)
	for b := first; ; b++ {
		bins = append(bins, b)
		if b == last {
			break
		}
	}
	return bins
}

// CreateBins returns the union of NearBins over all points, sorted ascending
// without duplicates. Both parties bin their own values, so each side has to
// cover every bin a peer value up to δ away could fall into.
func CreateBins(points []uint64, delta uint64) []Bin {
	seen := make(map[Bin]struct{}, 2*len(points))
	for _, v := range points {
		for _, b := range NearBins(v, delta) {
			seen[b] = struct{}{}
		}
	}
	bins := make([]Bin, 0, len(seen))
	for b := range seen {
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i] < bins[j] })
	return bins
}

// InvertBin returns, in input order, every point whose own bin is b.
func InvertBin(b Bin, points []uint64, delta uint64) []uint64 {
	var out []uint64
	for _, v := range points {
		if BinOf(v, delta) == b {
			out = append(out, v)
		}
	}
	return out
}

// Index maps bins back to points in one pass, for callers that invert many
// bins over the same point set.
type Index struct {
	delta  uint64
	points map[Bin][]uint64
}

// NewIndex groups points by their own bin.
func NewIndex(points []uint64, delta uint64) *Index {
	idx := &Index{delta: delta, points: make(map[Bin][]uint64, len(points))}
	for _, v := range points {
		b := BinOf(v, delta)
		idx.points[b] = append(idx.points[b], v)
	}
	return idx
}

// Invert is InvertBin against the indexed points.
func (idx *Index) Invert(b Bin) []uint64 {
	return idx.points[b]
}

// Delta returns the distance threshold the index was built with.
func (idx *Index) Delta() uint64 {
	return idx.delta
}
