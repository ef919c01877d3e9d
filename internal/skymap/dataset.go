// Package skymap holds the mutable binned dataset: aligned arrays of
// counts, background, exposure and response kernels over a shared geometry,
// plus the source models attached for fitting. It also implements stacking
// of per-observation datasets into a cumulative one.
package skymap

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/skygrid"
)

// Dataset is a container of aligned binned arrays. Counts, Background and
// Mask live on the reduced-data geometry (reconstructed energy); Exposure
// lives on the true-energy geometry; EDisp is the spatially averaged
// migration matrix from true to reconstructed energy bins; PSF is an
// optional per-true-energy radial containment kernel with NRad bins.
//
// Counts are stored as float64 because they are accumulation targets, but
// the reducer only ever writes integers into them.
type Dataset struct {
	Name string
	ID   uuid.UUID

	Geom     *skygrid.Geom // reduced-data geometry, one energy axis
	GeomTrue *skygrid.Geom // true-energy geometry, same projection

	Counts     []float64 // data geometry
	Background []float64 // data geometry
	Exposure   []float64 // true geometry, cm^2 s
	EDisp      []float64 // nETrue x nEReco, row-major over true energy
	PSF        []float64 // nETrue x NRad, empty when NRad == 0
	NRad       int

	Mask []bool // data geometry, true = bin participates in the fit

	// Models attached for fitting. Entries are aliased, never copied: the
	// same *SkyModel attached to several datasets shares parameter state.
	Models []*model.SkyModel

	// BkgNorm records the background normalization fitted and applied by
	// the background normalizer. 1 means untouched.
	BkgNorm float64
}

// New creates an empty dataset over the given reduced-data and true-energy
// geometries. Both must share the spatial projection and carry exactly one
// non-spatial axis. nRad of zero disables the PSF kernel.
func New(name string, geom, geomTrue *skygrid.Geom, nRad int) (*Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset requires a name")
	}
	if geom == nil || geomTrue == nil {
		return nil, &skygrid.MismatchError{Reason: "nil geometry"}
	}
	if !geom.Proj().Equal(geomTrue.Proj()) {
		return nil, &skygrid.MismatchError{Reason: "data and true geometries must share the spatial projection"}
	}
	if len(geom.Axes()) != 1 || len(geomTrue.Axes()) != 1 {
		return nil, &skygrid.MismatchError{Reason: "dataset geometries require exactly one non-spatial axis"}
	}
	if nRad < 0 {
		return nil, fmt.Errorf("negative PSF radial bin count %d", nRad)
	}
	d := &Dataset{
		Name:       name,
		ID:         uuid.New(),
		Geom:       geom,
		GeomTrue:   geomTrue,
		Counts:     make([]float64, geom.NBins()),
		Background: make([]float64, geom.NBins()),
		Exposure:   make([]float64, geomTrue.NBins()),
		EDisp:      make([]float64, geomTrue.Axes()[0].NBins()*geom.Axes()[0].NBins()),
		NRad:       nRad,
		Mask:       make([]bool, geom.NBins()),
		BkgNorm:    1,
	}
	if nRad > 0 {
		d.PSF = make([]float64, geomTrue.Axes()[0].NBins()*nRad)
	}
	for i := range d.Mask {
		d.Mask[i] = true
	}
	return d, nil
}

// EnergyAxis returns the reconstructed-energy axis.
func (d *Dataset) EnergyAxis() *skygrid.Axis { return d.Geom.Axes()[0] }

// EnergyTrueAxis returns the true-energy axis.
func (d *Dataset) EnergyTrueAxis() *skygrid.Axis { return d.GeomTrue.Axes()[0] }

// Validate checks every array shape against its geometry.
func (d *Dataset) Validate() error {
	nData := d.Geom.NBins()
	nTrue := d.GeomTrue.NBins()
	nED := d.EnergyTrueAxis().NBins() * d.EnergyAxis().NBins()
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"counts", len(d.Counts), nData},
		{"background", len(d.Background), nData},
		{"mask", len(d.Mask), nData},
		{"exposure", len(d.Exposure), nTrue},
		{"edisp", len(d.EDisp), nED},
		{"psf", len(d.PSF), d.EnergyTrueAxis().NBins() * d.NRad},
	}
	for _, c := range checks {
		if c.got != c.want {
			return &skygrid.MismatchError{
				Reason: fmt.Sprintf("dataset %s: %s array length %d, geometry wants %d", d.Name, c.name, c.got, c.want),
			}
		}
	}
	for i, v := range d.Counts {
		if v < 0 || v != math.Trunc(v) {
			return fmt.Errorf("dataset %s: counts bin %d holds %g, want a non-negative integer", d.Name, i, v)
		}
	}
	return nil
}

// AndMask intersects the fit mask with m in place. Masking never relaxes an
// existing exclusion: a bin already excluded stays excluded.
func (d *Dataset) AndMask(m []bool) error {
	if len(m) != len(d.Mask) {
		return &skygrid.MismatchError{
			Reason: fmt.Sprintf("mask length %d does not match geometry %d", len(m), len(d.Mask)),
		}
	}
	for i := range d.Mask {
		d.Mask[i] = d.Mask[i] && m[i]
	}
	return nil
}

// ValidBins returns the number of bins currently inside the fit mask.
func (d *Dataset) ValidBins() int {
	n := 0
	for _, ok := range d.Mask {
		if ok {
			n++
		}
	}
	return n
}

// AttachModel appends a source model. The model is aliased, not copied.
func (d *Dataset) AttachModel(m *model.SkyModel) {
	d.Models = append(d.Models, m)
}

// ModelByName returns the attached model with the given source name.
func (d *Dataset) ModelByName(name string) (*model.SkyModel, bool) {
	for _, m := range d.Models {
		if m.SrcName == name {
			return m, true
		}
	}
	return nil, false
}

// Copy returns a deep copy of all arrays and the mask. Attached models are
// aliased, not duplicated: the copy shares parameter state with the
// original, which is the documented shared-ownership semantics used by
// joint fits and flux-point estimation.
func (d *Dataset) Copy(name string) *Dataset {
	cp := &Dataset{
		Name:       name,
		ID:         uuid.New(),
		Geom:       d.Geom,
		GeomTrue:   d.GeomTrue,
		Counts:     append([]float64(nil), d.Counts...),
		Background: append([]float64(nil), d.Background...),
		Exposure:   append([]float64(nil), d.Exposure...),
		EDisp:      append([]float64(nil), d.EDisp...),
		PSF:        append([]float64(nil), d.PSF...),
		NRad:       d.NRad,
		Mask:       append([]bool(nil), d.Mask...),
		Models:     append([]*model.SkyModel(nil), d.Models...),
		BkgNorm:    d.BkgNorm,
	}
	return cp
}
