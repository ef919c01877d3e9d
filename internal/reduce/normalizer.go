package reduce

import (
	"fmt"
	"math"

	"github.com/banshee-data/skystack/internal/fit"
	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skymap"
)

// ExclusionRegion is a circular sky region excluded from the background
// normalization fit, so known source flux does not bias the background.
type ExclusionRegion struct {
	Lon    float64
	Lat    float64
	Radius float64 // degrees
}

// InsufficientDataError reports that too few valid bins remained for a fit.
// The affected unit is skipped or flagged; the data is left unmodified.
type InsufficientDataError struct {
	Dataset  string
	Valid    int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data in %s: %d valid bins, need %d", e.Dataset, e.Valid, e.Required)
}

// NormalizerParams configures the background normalizer.
type NormalizerParams struct {
	Exclusions []ExclusionRegion
	// Tilt adds a spectral tilt parameter (E/E0)^-delta alongside the
	// scalar normalization.
	Tilt         bool
	Backend      string
	Cfg          fit.Config
	MinValidBins int // default 10
}

// FitBackgroundNorm fits a scalar normalization (and optionally a spectral
// tilt) multiplying the dataset's background array, using the Cash
// likelihood restricted to bins inside the fit mask and outside the
// exclusion regions. On convergence the stored background is rescaled in
// place and the fitted norm recorded on the dataset; on failure the
// background is left untouched.
func FitBackgroundNorm(ds *skymap.Dataset, p NormalizerParams) (norm, tilt float64, err error) {
	minValid := p.MinValidBins
	if minValid <= 0 {
		minValid = 10
	}

	// Restrict the likelihood to the current mask minus the exclusions.
	mask := exclusionMask(ds, p.Exclusions)
	valid := 0
	for i, ok := range mask {
		mask[i] = ok && ds.Mask[i]
		if mask[i] {
			valid++
		}
	}
	if valid < minValid {
		return 0, 0, &InsufficientDataError{Dataset: ds.Name, Valid: valid, Required: minValid}
	}

	normPar := model.NewParam("bkg-norm", 1, "").WithBounds(1e-3, 1e3)
	tiltPar := model.NewParam("bkg-tilt", 0, "").WithBounds(-2, 2)
	pars := model.Params{normPar}
	if p.Tilt {
		pars = append(pars, tiltPar)
	}

	ax := ds.EnergyAxis()
	e0 := math.Sqrt(ax.EdgeLo(0) * ax.EdgeHi(ax.NBins()-1))
	nPix := ds.Geom.NPix()
	npred := make([]float64, len(ds.Background))
	objective := func(x []float64) float64 {
		_ = pars.SetValues(x)
		for ie := 0; ie < ax.NBins(); ie++ {
			shape := normPar.Value
			if p.Tilt {
				shape *= math.Pow(ax.Center(ie)/e0, -tiltPar.Value)
			}
			for pix := 0; pix < nPix; pix++ {
				k := ie*nPix + pix
				npred[k] = ds.Background[k] * shape
			}
		}
		return fit.CashSum(ds.Counts, npred, mask)
	}

	minimizer, err := fit.NewMinimizer(p.Backend)
	if err != nil {
		return 0, 0, err
	}
	bounds := [][2]float64{{normPar.Min, normPar.Max}}
	if p.Tilt {
		bounds = append(bounds, [2]float64{tiltPar.Min, tiltPar.Max})
	}
	res, err := minimizer.Minimize(objective, pars.Values(), bounds, p.Cfg)
	if err != nil {
		return 0, 0, fmt.Errorf("background normalization for %s: %w", ds.Name, err)
	}
	if !res.Converged {
		return 0, 0, &fit.OptimizationError{
			Backend: minimizer.Name(), Status: res.Status, NEval: res.NEval, Stat: res.Stat, LastX: res.X,
		}
	}
	_ = pars.SetValues(res.X)

	// Apply the fitted correction to the stored background.
	for ie := 0; ie < ax.NBins(); ie++ {
		shape := normPar.Value
		if p.Tilt {
			shape *= math.Pow(ax.Center(ie)/e0, -tiltPar.Value)
		}
		for pix := 0; pix < nPix; pix++ {
			ds.Background[ie*nPix+pix] *= shape
		}
	}
	ds.BkgNorm = normPar.Value

	monitoring.Tagf("reduce", "dataset %s: background norm %.4f tilt %.4f (%d valid bins)",
		ds.Name, normPar.Value, tiltPar.Value, valid)
	return normPar.Value, tiltPar.Value, nil
}

// exclusionMask returns a data-geometry mask that is false inside any
// exclusion region.
func exclusionMask(ds *skymap.Dataset, regions []ExclusionRegion) []bool {
	mask := make([]bool, len(ds.Mask))
	for i := range mask {
		mask[i] = true
	}
	if len(regions) == 0 {
		return mask
	}
	proj := ds.Geom.Proj()
	nPix := ds.Geom.NPix()
	nE := ds.EnergyAxis().NBins()
	for iy := 0; iy < proj.NY; iy++ {
		for ix := 0; ix < proj.NX; ix++ {
			lon, lat := proj.PixToSky(float64(ix), float64(iy))
			excluded := false
			for _, reg := range regions {
				if proj.Separation(lon, lat, reg.Lon, reg.Lat) <= reg.Radius {
					excluded = true
					break
				}
			}
			if excluded {
				for ie := 0; ie < nE; ie++ {
					mask[ie*nPix+iy*proj.NX+ix] = false
				}
			}
		}
	}
	return mask
}
