package reduce

import (
	"fmt"
	"math"

	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skygrid"
	"github.com/banshee-data/skystack/internal/skymap"
)

// cm2PerM2 converts effective area to the cm^2 exposure convention used by
// the spectral normalization units.
const cm2PerM2 = 1e4

// gauss68 is the ratio between the 68% containment radius of a symmetric 2D
// Gaussian and its sigma.
const gauss68 = 1.5096

// Reducer projects one observation into a dataset cutout of the target
// geometry: events are binned into counts, the effective area and energy
// dispersion are resampled onto the target true-energy axis, and the
// expected background rate is evaluated into the background array. Events
// and response contributions outside the target bounds are dropped, not
// clipped into the nearest bin.
type Reducer struct {
	Geom     *skygrid.Geom // target reduced-data geometry
	GeomTrue *skygrid.Geom // target true-energy geometry
	NRad     int           // PSF kernel radial bins, 0 disables
}

// NewReducer validates the target geometries and returns a reducer.
func NewReducer(geom, geomTrue *skygrid.Geom, nRad int) (*Reducer, error) {
	if geom == nil || geomTrue == nil {
		return nil, &skygrid.MismatchError{Reason: "nil target geometry"}
	}
	if !geom.Proj().Equal(geomTrue.Proj()) {
		return nil, &skygrid.MismatchError{Reason: "target geometries must share the spatial projection"}
	}
	if len(geom.Axes()) != 1 || len(geomTrue.Axes()) != 1 {
		return nil, &skygrid.MismatchError{Reason: "target geometries require exactly one energy axis"}
	}
	if nRad < 0 {
		return nil, fmt.Errorf("negative PSF radial bin count %d", nRad)
	}
	return &Reducer{Geom: geom, GeomTrue: geomTrue, NRad: nRad}, nil
}

// Reduce produces a new dataset cutout for one observation. The observation
// is read-only; the returned dataset is owned by the caller.
func (r *Reducer) Reduce(obs *Observation) (*skymap.Dataset, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	proj := r.Geom.Proj()
	// Window sized to cover the valid field of view around the pointing.
	nPixSide := int(math.Ceil(2*obs.MaxOffset/proj.PixSize)) + 1
	if nPixSide > proj.NX {
		nPixSide = proj.NX
	}
	nySide := nPixSide
	if nySide > proj.NY {
		nySide = proj.NY
	}
	geomCut, err := r.Geom.Cutout(obs.PointingLon, obs.PointingLat, nPixSide, nySide)
	if err != nil {
		return nil, fmt.Errorf("observation %s: %w", obs.ID, err)
	}
	geomTrueCut, err := geomCut.WithAxes(r.GeomTrue.Axes()...)
	if err != nil {
		return nil, fmt.Errorf("observation %s: %w", obs.ID, err)
	}

	ds, err := skymap.New(obs.ID, geomCut, geomTrueCut, r.NRad)
	if err != nil {
		return nil, fmt.Errorf("observation %s: %w", obs.ID, err)
	}

	r.binEvents(ds, obs)
	r.fillExposure(ds, obs)
	r.fillEDisp(ds, obs)
	r.fillPSF(ds, obs)
	r.fillBackground(ds, obs)

	monitoring.Tagf("reduce", "observation %s: %d/%d events in footprint, window %dx%d",
		obs.ID, int(sum(ds.Counts)), len(obs.Events), nPixSide, nySide)
	return ds, nil
}

// binEvents histograms the event list into counts. Events outside the
// spatial footprint or the energy axis range are dropped.
func (r *Reducer) binEvents(ds *skymap.Dataset, obs *Observation) {
	proj := ds.Geom.Proj()
	ax := ds.EnergyAxis()
	nPix := ds.Geom.NPix()
	for _, ev := range obs.Events {
		ix, iy, ok := proj.PixBin(ev.Lon, ev.Lat)
		if !ok {
			continue
		}
		ie := ax.Bin(ev.Energy)
		if ie < 0 {
			continue
		}
		ds.Counts[ie*nPix+iy*proj.NX+ix]++
	}
}

// fillExposure writes aeff * livetime per true-energy bin, uniform across
// the field of view; offset validity is the masker's concern.
func (r *Reducer) fillExposure(ds *skymap.Dataset, obs *Observation) {
	ax := ds.EnergyTrueAxis()
	nPix := ds.GeomTrue.NPix()
	for it := 0; it < ax.NBins(); it++ {
		exp := obs.Aeff.Interp(ax.Center(it)) * cm2PerM2 * obs.LiveTime
		for pix := 0; pix < nPix; pix++ {
			ds.Exposure[it*nPix+pix] = exp
		}
	}
}

// fillEDisp builds the migration matrix: for each true-energy bin, the
// probability of reconstruction into each reconstructed-energy bin under
// the observation's Gaussian dispersion. Migration outside the
// reconstructed axis is lost, not clipped, so rows need not sum to one.
func (r *Reducer) fillEDisp(ds *skymap.Dataset, obs *Observation) {
	axTrue := ds.EnergyTrueAxis()
	axReco := ds.EnergyAxis()
	nReco := axReco.NBins()
	for it := 0; it < axTrue.NBins(); it++ {
		eTrue := axTrue.Center(it)
		mu := (1 + obs.EDisp.Bias) * eTrue
		sigma := obs.EDisp.Resolution * eTrue
		if sigma <= 0 {
			// Perfect resolution: all probability in the bin containing mu.
			if ir := axReco.Bin(mu); ir >= 0 {
				ds.EDisp[it*nReco+ir] = 1
			}
			continue
		}
		for ir := 0; ir < nReco; ir++ {
			lo := (axReco.EdgeLo(ir) - mu) / (sigma * math.Sqrt2)
			hi := (axReco.EdgeHi(ir) - mu) / (sigma * math.Sqrt2)
			ds.EDisp[it*nReco+ir] = 0.5 * (math.Erf(hi) - math.Erf(lo))
		}
	}
}

// fillPSF writes the per-true-energy radial containment kernel, a Gaussian
// profile over NRad annuli out to twice the 68% containment radius.
func (r *Reducer) fillPSF(ds *skymap.Dataset, obs *Observation) {
	if ds.NRad == 0 {
		return
	}
	sigma := obs.PSF.Radius68 / gauss68
	if sigma <= 0 {
		return
	}
	axTrue := ds.EnergyTrueAxis()
	rMax := 2 * obs.PSF.Radius68
	step := rMax / float64(ds.NRad)
	for it := 0; it < axTrue.NBins(); it++ {
		for k := 0; k < ds.NRad; k++ {
			rLo := float64(k) * step
			rHi := rLo + step
			// Containment difference of the 2D Gaussian between radii.
			cLo := 1 - math.Exp(-0.5*rLo*rLo/(sigma*sigma))
			cHi := 1 - math.Exp(-0.5*rHi*rHi/(sigma*sigma))
			ds.PSF[it*ds.NRad+k] = cHi - cLo
		}
	}
}

// fillBackground evaluates the instrument-provided expected background rate
// into the background array: rate * bin width * live time * pixel solid
// angle per reconstructed bin.
func (r *Reducer) fillBackground(ds *skymap.Dataset, obs *Observation) {
	ax := ds.EnergyAxis()
	nPix := ds.Geom.NPix()
	omega := ds.Geom.Proj().SolidAngle()
	for ie := 0; ie < ax.NBins(); ie++ {
		rate := obs.Bkg.Interp(ax.Center(ie))
		expected := rate * ax.Width(ie) * obs.LiveTime * omega
		for pix := 0; pix < nPix; pix++ {
			ds.Background[ie*nPix+pix] = expected
		}
	}
}

func sum(xs []float64) float64 {
	var s float64
	for _, v := range xs {
		s += v
	}
	return s
}
