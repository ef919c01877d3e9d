package skygrid

import (
	"fmt"
)

// MismatchError reports an incompatible geometry pairing. It is always fatal
// to the operation that detected it.
type MismatchError struct {
	Reason string
}

func (e *MismatchError) Error() string { return "geometry mismatch: " + e.Reason }

// Geom is an immutable binned geometry: a spatial projection plus an ordered
// list of non-spatial axes. The flat array layout is axis-major with the two
// spatial dimensions fastest:
//
//	idx = ((a0*n1 + a1)*... )*NPix + iy*NX + ix
type Geom struct {
	proj Proj
	axes []*Axis
}

// New constructs a geometry over the given projection and axes.
func New(proj Proj, axes ...*Axis) (*Geom, error) {
	if proj.NX < 1 || proj.NY < 1 {
		return nil, fmt.Errorf("projection requires positive dimensions, got %dx%d", proj.NX, proj.NY)
	}
	if proj.PixSize <= 0 {
		return nil, fmt.Errorf("projection requires positive pixel size, got %g", proj.PixSize)
	}
	names := make(map[string]bool, len(axes))
	for _, ax := range axes {
		if ax == nil {
			return nil, fmt.Errorf("nil axis")
		}
		if names[ax.Name()] {
			return nil, fmt.Errorf("duplicate axis %q", ax.Name())
		}
		names[ax.Name()] = true
	}
	cp := make([]*Axis, len(axes))
	copy(cp, axes)
	return &Geom{proj: proj, axes: cp}, nil
}

// Proj returns the spatial projection.
func (g *Geom) Proj() Proj { return g.proj }

// Axes returns the ordered non-spatial axes.
func (g *Geom) Axes() []*Axis {
	cp := make([]*Axis, len(g.axes))
	copy(cp, g.axes)
	return cp
}

// Axis returns the named axis.
func (g *Geom) Axis(name string) (*Axis, bool) {
	for _, ax := range g.axes {
		if ax.Name() == name {
			return ax, true
		}
	}
	return nil, false
}

// NPix returns the number of spatial pixels.
func (g *Geom) NPix() int { return g.proj.NX * g.proj.NY }

// NBins returns the total number of bins across all dimensions.
func (g *Geom) NBins() int {
	n := g.NPix()
	for _, ax := range g.axes {
		n *= ax.NBins()
	}
	return n
}

// Idx returns the flat array index for spatial pixel (ix, iy) and the given
// per-axis bin indices (in axis order).
func (g *Geom) Idx(ix, iy int, axisBins ...int) int {
	n := 0
	for i, ax := range g.axes {
		n = n*ax.NBins() + axisBins[i]
	}
	return n*g.NPix() + iy*g.proj.NX + ix
}

// Compatible reports whether two geometries match bin-for-bin: identical
// projection and identical axes. A nil return means compatible.
func (g *Geom) Compatible(o *Geom) error {
	if o == nil {
		return &MismatchError{Reason: "nil geometry"}
	}
	if !g.proj.Equal(o.proj) {
		return &MismatchError{Reason: fmt.Sprintf("projections differ: %+v vs %+v", g.proj, o.proj)}
	}
	if len(g.axes) != len(o.axes) {
		return &MismatchError{Reason: fmt.Sprintf("axis count differs: %d vs %d", len(g.axes), len(o.axes))}
	}
	for i := range g.axes {
		if !g.axes[i].Equal(o.axes[i]) {
			return &MismatchError{Reason: fmt.Sprintf("axis %q differs", g.axes[i].Name())}
		}
	}
	return nil
}

// SameAxes reports whether the non-spatial axes match bin-for-bin while the
// spatial footprints may differ. Used to validate cutout relationships.
func (g *Geom) SameAxes(o *Geom) error {
	if o == nil {
		return &MismatchError{Reason: "nil geometry"}
	}
	if len(g.axes) != len(o.axes) {
		return &MismatchError{Reason: fmt.Sprintf("axis count differs: %d vs %d", len(g.axes), len(o.axes))}
	}
	for i := range g.axes {
		if !g.axes[i].Equal(o.axes[i]) {
			return &MismatchError{Reason: fmt.Sprintf("axis %q differs", g.axes[i].Name())}
		}
	}
	return nil
}

// Cutout returns a new geometry covering an nx-by-ny pixel window centred as
// closely as possible on the given sky position, on the same reference pixel
// plane and with the same axes. The window is not required to lie inside the
// parent footprint.
func (g *Geom) Cutout(lon, lat float64, nx, ny int) (*Geom, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("cutout requires positive dimensions, got %dx%d", nx, ny)
	}
	x, y := g.proj.SkyToPix(lon, lat)
	cx := int(roundHalfUp(x)) + g.proj.OrigX
	cy := int(roundHalfUp(y)) + g.proj.OrigY
	p := g.proj
	p.NX, p.NY = nx, ny
	p.OrigX = cx - nx/2
	p.OrigY = cy - ny/2
	return New(p, g.axes...)
}

// WindowIn computes the pixel offset of g's footprint inside target.
// It requires both geometries to live on the same reference pixel plane,
// to have identical axes, and g's footprint to be fully contained in
// target's. This is the cutout relationship required for stacking.
func (g *Geom) WindowIn(target *Geom) (offX, offY int, err error) {
	if err := g.SameAxes(target); err != nil {
		return 0, 0, err
	}
	if !g.proj.sameRef(target.proj) {
		return 0, 0, &MismatchError{Reason: "projections are not on the same reference pixel plane"}
	}
	offX = g.proj.OrigX - target.proj.OrigX
	offY = g.proj.OrigY - target.proj.OrigY
	if offX < 0 || offY < 0 || offX+g.proj.NX > target.proj.NX || offY+g.proj.NY > target.proj.NY {
		return 0, 0, &MismatchError{
			Reason: fmt.Sprintf("footprint %dx%d at offset (%d,%d) not contained in %dx%d",
				g.proj.NX, g.proj.NY, offX, offY, target.proj.NX, target.proj.NY),
		}
	}
	return offX, offY, nil
}

// WithAxes returns a geometry with the same projection but different axes.
// Used to derive the true-energy geometry from the reduced-data geometry.
func (g *Geom) WithAxes(axes ...*Axis) (*Geom, error) {
	return New(g.proj, axes...)
}

func roundHalfUp(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return -float64(int(-v + 0.5))
}
