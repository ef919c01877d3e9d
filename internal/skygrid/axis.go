// Package skygrid defines the immutable binned geometry shared by all arrays
// in a dataset: a 2D spatial pixel grid with a sky-to-pixel transform plus
// one or more labelled non-spatial bin-edge axes (typically energy).
//
// Two geometries are compatible only if the spatial projection and every
// axis match bin-for-bin; all binary dataset operations check this first.
package skygrid

import (
	"fmt"
	"math"
)

// Axis is an immutable 1D labelled axis defined by monotonically increasing
// bin edges. Values are attributed to bins by edges[i] <= v < edges[i+1];
// the upper edge of the last bin is inclusive so the axis covers a closed
// interval.
type Axis struct {
	name  string
	unit  string
	edges []float64
}

// NewAxis constructs an axis from bin edges. At least two edges are required
// and edges must be strictly increasing.
func NewAxis(name, unit string, edges []float64) (*Axis, error) {
	if name == "" {
		return nil, fmt.Errorf("axis requires a name")
	}
	if len(edges) < 2 {
		return nil, fmt.Errorf("axis %q requires at least 2 edges, got %d", name, len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return nil, fmt.Errorf("axis %q edges must be strictly increasing at index %d (%g >= %g)",
				name, i, edges[i-1], edges[i])
		}
	}
	cp := make([]float64, len(edges))
	copy(cp, edges)
	return &Axis{name: name, unit: unit, edges: cp}, nil
}

// LogAxis constructs an axis with n logarithmically spaced bins between lo
// and hi. Both bounds must be positive. This is the usual construction for
// energy axes.
func LogAxis(name, unit string, lo, hi float64, n int) (*Axis, error) {
	if lo <= 0 || hi <= lo {
		return nil, fmt.Errorf("axis %q: log spacing requires 0 < lo < hi, got lo=%g hi=%g", name, lo, hi)
	}
	if n < 1 {
		return nil, fmt.Errorf("axis %q: need at least 1 bin, got %d", name, n)
	}
	edges := make([]float64, n+1)
	step := (math.Log(hi) - math.Log(lo)) / float64(n)
	for i := range edges {
		edges[i] = math.Exp(math.Log(lo) + float64(i)*step)
	}
	// Pin the end points exactly so round-trips compare equal.
	edges[0] = lo
	edges[n] = hi
	return NewAxis(name, unit, edges)
}

// Name returns the axis label.
func (a *Axis) Name() string { return a.name }

// Unit returns the axis unit string.
func (a *Axis) Unit() string { return a.unit }

// NBins returns the number of bins.
func (a *Axis) NBins() int { return len(a.edges) - 1 }

// Edges returns a copy of the bin edges.
func (a *Axis) Edges() []float64 {
	cp := make([]float64, len(a.edges))
	copy(cp, a.edges)
	return cp
}

// EdgeLo returns the lower edge of bin i.
func (a *Axis) EdgeLo(i int) float64 { return a.edges[i] }

// EdgeHi returns the upper edge of bin i.
func (a *Axis) EdgeHi(i int) float64 { return a.edges[i+1] }

// Center returns the bin centre: geometric mean when the bin is strictly
// positive (log-spaced energy axes), arithmetic midpoint otherwise.
func (a *Axis) Center(i int) float64 {
	lo, hi := a.edges[i], a.edges[i+1]
	if lo > 0 {
		return math.Sqrt(lo * hi)
	}
	return 0.5 * (lo + hi)
}

// Width returns the width of bin i.
func (a *Axis) Width(i int) float64 { return a.edges[i+1] - a.edges[i] }

// Bin returns the bin index containing v, or -1 if v falls outside the axis
// range. The upper edge of the last bin is inclusive.
func (a *Axis) Bin(v float64) int {
	n := a.NBins()
	if v < a.edges[0] || v > a.edges[n] {
		return -1
	}
	if v == a.edges[n] {
		return n - 1
	}
	// Binary search over edges.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if v >= a.edges[mid+1] {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Equal reports whether two axes match bin-for-bin: same name, unit and
// exactly equal edges.
func (a *Axis) Equal(b *Axis) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.name != b.name || a.unit != b.unit || len(a.edges) != len(b.edges) {
		return false
	}
	for i := range a.edges {
		if a.edges[i] != b.edges[i] {
			return false
		}
	}
	return true
}
