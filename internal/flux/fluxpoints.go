// Package flux estimates per-energy-interval flux points: within each
// sub-interval the named source's spectral normalization is refit with all
// shape parameters frozen, yielding a normalization with asymmetric
// profile-inversion errors and a detection test statistic.
package flux

import (
	"fmt"
	"math"

	"github.com/banshee-data/skystack/internal/fit"
	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skymap"
)

// Point is one flux-point row. ErrN/ErrP are the asymmetric errors from
// one-parameter profile inversion at a statistic change of one. A failed or
// low-significance interval is flagged, never fabricated: Err records an
// interval whose fit produced no values at all, ProfileErr records a failed
// profile step (TS null fit or error-bar inversion) on an otherwise fitted
// point, and UpperLimit marks non-detections. A zero ErrN/ErrP with a nil
// ProfileErr means the error really is zero, not that the bracket failed.
type Point struct {
	EMin float64
	EMax float64
	ERef float64

	Norm float64
	ErrN float64
	ErrP float64
	TS   float64

	UpperLimit bool
	Err        error
	ProfileErr error
}

// Params configures the estimator.
type Params struct {
	EnergyEdges []float64
	Source      string
	Backend     string
	Cfg         fit.Config
	// MinTS below which a point is flagged as an upper limit. Default 4.
	MinTS float64
}

// Estimate runs one independent fit per energy sub-interval over copies of
// the input datasets. A failure in one interval is recorded on that point
// and does not abort the estimation.
func Estimate(datasets []*skymap.Dataset, p Params) ([]Point, error) {
	if len(p.EnergyEdges) < 2 {
		return nil, fmt.Errorf("flux points require at least 2 energy edges, got %d", len(p.EnergyEdges))
	}
	if p.Source == "" {
		return nil, fmt.Errorf("flux points require a source name")
	}
	minTS := p.MinTS
	if minTS <= 0 {
		minTS = 4
	}

	src, err := findSource(datasets, p.Source)
	if err != nil {
		return nil, err
	}
	normName := p.Source + "." + src.Spectral.Norm().Name

	points := make([]Point, 0, len(p.EnergyEdges)-1)
	for i := 0; i+1 < len(p.EnergyEdges); i++ {
		e1, e2 := p.EnergyEdges[i], p.EnergyEdges[i+1]
		pt := estimateOne(datasets, src, normName, e1, e2, p.Backend, p.Cfg, minTS)
		points = append(points, pt)
		if pt.Err != nil {
			monitoring.Tagf("flux", "interval [%g, %g]: %v", e1, e2, pt.Err)
		}
		if pt.ProfileErr != nil {
			monitoring.Tagf("flux", "interval [%g, %g]: %v", e1, e2, pt.ProfileErr)
		}
	}
	return points, nil
}

// estimateOne fits one sub-interval. Model parameters are shared state, so
// every value and frozen flag touched here is restored before returning.
func estimateOne(datasets []*skymap.Dataset, src *model.SkyModel, normName string, e1, e2 float64, backend string, cfg fit.Config, minTS float64) Point {
	pt := Point{EMin: e1, EMax: e2, ERef: math.Sqrt(e1 * e2)}

	savedFrozen := src.FreezeShape()
	allParams := src.Parameters()
	savedValues := allParams.Values()
	defer func() {
		_ = allParams.SetValues(savedValues)
		src.RestoreFrozen(savedFrozen)
	}()

	// Narrow copies of the datasets to the sub-interval. Copies share model
	// state with the originals by design; their arrays and masks are deep.
	copies := make([]*skymap.Dataset, 0, len(datasets))
	for _, d := range datasets {
		cp := d.Copy(fmt.Sprintf("%s-fp-%g-%g", d.Name, e1, e2))
		if err := cp.AndMask(intervalMask(cp, e1, e2)); err != nil {
			pt.Err = err
			pt.UpperLimit = true
			return pt
		}
		if cp.ValidBins() > 0 {
			copies = append(copies, cp)
		}
	}
	if len(copies) == 0 {
		pt.Err = fmt.Errorf("no valid bins in [%g, %g]", e1, e2)
		pt.UpperLimit = true
		return pt
	}

	engine, err := fit.NewEngine(copies...)
	if err != nil {
		pt.Err = err
		pt.UpperLimit = true
		return pt
	}
	res, err := engine.Run(backend, cfg)
	if err != nil {
		pt.Err = err
		pt.UpperLimit = true
		return pt
	}

	norm := src.Spectral.Norm()
	pt.Norm = norm.Value
	best := norm.Value
	statMin := res.Stat

	// Detection TS against the zero-normalization null.
	nullFloor := math.Max(norm.Min, 0)
	if statNull, err := engine.FixedStat(normName, nullFloor, backend, cfg); err == nil {
		pt.TS = statNull - statMin
	} else {
		pt.ProfileErr = &fit.ProfilePointError{Param: normName, Value: nullFloor, Cause: err}
	}
	if pt.TS < minTS {
		pt.UpperLimit = true
	}

	// Asymmetric errors by profile inversion at a statistic change of one.
	// An inversion that cannot bracket the target is recorded on the point;
	// the corresponding error stays zero.
	if lo, err := invertProfile(engine, normName, statMin+1, best, norm.Min, backend, cfg); err == nil {
		pt.ErrN = best - lo
	} else if pt.ProfileErr == nil {
		pt.ProfileErr = &fit.ProfilePointError{Param: normName, Value: norm.Min, Cause: err}
	}
	if hi, err := invertProfile(engine, normName, statMin+1, best, norm.Max, backend, cfg); err == nil {
		pt.ErrP = hi - best
	} else if pt.ProfileErr == nil {
		pt.ProfileErr = &fit.ProfilePointError{Param: normName, Value: norm.Max, Cause: err}
	}
	return pt
}

// invertProfile finds the parameter value between best and limit where the
// profiled statistic crosses target, by expansion then bisection. limit may
// be on either side of best.
func invertProfile(e *fit.Engine, name string, target, best, limit float64, backend string, cfg fit.Config) (float64, error) {
	if math.IsInf(limit, 0) {
		// Expand away from best until the target is bracketed.
		step := math.Max(math.Abs(best)*0.5, 1e-6)
		if limit < 0 {
			step = -step
		}
		limit = best + step
		for i := 0; i < 40; i++ {
			stat, err := e.FixedStat(name, limit, backend, cfg)
			if err != nil {
				return 0, err
			}
			if stat >= target {
				break
			}
			limit = best + (limit-best)*2
		}
	}
	statLim, err := e.FixedStat(name, limit, backend, cfg)
	if err != nil {
		return 0, err
	}
	if statLim < target {
		return 0, fmt.Errorf("profile of %s does not reach target within bounds", name)
	}

	lo, hi := best, limit // stat(lo) < target <= stat(hi)
	for i := 0; i < 60 && math.Abs(hi-lo) > 1e-6*math.Max(math.Abs(hi), 1); i++ {
		mid := 0.5 * (lo + hi)
		stat, err := e.FixedStat(name, mid, backend, cfg)
		if err != nil {
			return 0, err
		}
		if stat < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), nil
}

// intervalMask restricts the data geometry to energy bins fully contained
// in [e1, e2].
func intervalMask(d *skymap.Dataset, e1, e2 float64) []bool {
	ax := d.EnergyAxis()
	nPix := d.Geom.NPix()
	mask := make([]bool, len(d.Mask))
	const tol = 1e-9
	for ie := 0; ie < ax.NBins(); ie++ {
		inside := ax.EdgeLo(ie) >= e1-tol && ax.EdgeHi(ie) <= e2+tol
		if !inside {
			continue
		}
		for pix := 0; pix < nPix; pix++ {
			mask[ie*nPix+pix] = true
		}
	}
	return mask
}

func findSource(datasets []*skymap.Dataset, name string) (*model.SkyModel, error) {
	for _, d := range datasets {
		if m, ok := d.ModelByName(name); ok {
			if m.Spectral == nil {
				return nil, fmt.Errorf("source %q has no spectral component", name)
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("source %q not attached to any dataset", name)
}
