package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skymap"
)

// Engine evaluates and minimizes the joint statistic over an ordered list
// of datasets. Each dataset contributes an additive Cash term computed from
// its own counts, mask and predicted counts (attached models plus stored
// background). A model aliased across several datasets contributes each of
// its parameters once to the joint parameter vector.
type Engine struct {
	datasets []*skymap.Dataset
	params   model.Params

	lastCov *mat.SymDense
}

// NewEngine builds an engine over the given datasets. Every dataset is
// validated against its geometry first.
func NewEngine(datasets ...*skymap.Dataset) (*Engine, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("fit engine requires at least one dataset")
	}
	var params model.Params
	for _, d := range datasets {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		for _, m := range d.Models {
			params = append(params, m.Parameters()...)
		}
	}
	return &Engine{datasets: datasets, params: params.Dedupe()}, nil
}

// Parameters returns the joint (deduplicated) parameter vector.
func (e *Engine) Parameters() model.Params { return e.params }

// ParamByName resolves a parameter. A name of the form "source.param" is
// matched against the owning model's source name; a bare name matches the
// first parameter with that name.
func (e *Engine) ParamByName(name string) (*model.Param, error) {
	var src string
	par := name
	if i := indexByte(name, '.'); i >= 0 {
		src, par = name[:i], name[i+1:]
	}
	if src != "" {
		for _, d := range e.datasets {
			if m, ok := d.ModelByName(src); ok {
				if p, ok := m.Parameters().ByName(par); ok {
					return p, nil
				}
			}
		}
		return nil, fmt.Errorf("no parameter %q on source %q", par, src)
	}
	if p, ok := e.params.ByName(par); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no parameter %q", par)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// TotalStat evaluates the joint statistic at the current parameter values.
func (e *Engine) TotalStat() float64 {
	var sum float64
	for _, d := range e.datasets {
		sum += CashSum(d.Counts, d.Npred(), d.Mask)
	}
	return sum
}

// Result is the immutable outcome of one fit: ordered parameter snapshot,
// covariance (when the backend produced one), total statistic, convergence
// flag and evaluation count. A new run produces a new Result.
type Result struct {
	Names     []string
	Units     []string
	Values    []float64
	Errors    []float64
	Cov       *mat.SymDense
	Stat      float64
	NEval     int
	Converged bool
	Backend   string

	params model.Params
}

// Apply writes the fitted values and errors back into the parameter
// objects. This is the single allowed persistent side effect of a fit, made
// explicit so the write-back is visible at the call site. Run performs it
// on its own parameters before returning. A result without a covariance
// clears the errors: a stale error must not outlive the values it belonged
// to.
func (r *Result) Apply(params model.Params) {
	for i, p := range params {
		if i >= len(r.Values) {
			break
		}
		p.Value = r.Values[i]
		if r.Errors != nil {
			p.Err = r.Errors[i]
		} else {
			p.Err = 0
		}
	}
}

// Run minimizes the joint statistic over all non-frozen parameters with the
// named backend. On non-convergence it returns an OptimizationError and
// leaves no partial result behind; parameter values are restored.
func (e *Engine) Run(backend string, cfg Config) (*Result, error) {
	minimizer, err := NewMinimizer(backend)
	if err != nil {
		return nil, err
	}
	free := e.params.Free()
	if len(free) == 0 {
		return nil, fmt.Errorf("fit engine: no free parameters")
	}

	saved := free.Values()
	x0 := free.Values()
	bounds := boundsOf(free)
	obj := func(x []float64) float64 {
		_ = free.SetValues(x)
		return e.TotalStat()
	}

	res, err := minimizer.Minimize(obj, x0, bounds, cfg)
	if err != nil || !res.Converged {
		_ = free.SetValues(saved)
		oe := &OptimizationError{Backend: minimizer.Name()}
		if res != nil {
			oe.Status = res.Status
			oe.NEval = res.NEval
			oe.Stat = res.Stat
			oe.LastX = res.X
		}
		if err != nil {
			oe.Status = err.Error()
		}
		return nil, oe
	}

	out := &Result{
		Names:     make([]string, len(free)),
		Units:     make([]string, len(free)),
		Values:    append([]float64(nil), res.X...),
		Stat:      res.Stat,
		NEval:     res.NEval,
		Converged: true,
		Backend:   minimizer.Name(),
		params:    free,
	}
	for i, p := range free {
		out.Names[i] = p.Name
		out.Units[i] = p.Unit
	}

	if res.Hessian != nil {
		cov, covErr := covarianceFromHessian(res.Hessian)
		if covErr != nil {
			monitoring.Tagf("fit", "covariance not positive definite: %v", covErr)
		} else {
			out.Cov = cov
			out.Errors = make([]float64, len(free))
			for i := range free {
				out.Errors[i] = math.Sqrt(math.Max(cov.At(i, i), 0))
			}
		}
	}
	e.lastCov = out.Cov

	out.Apply(free)
	monitoring.Tagf("fit", "%s converged: stat=%.4f after %d evaluations", minimizer.Name(), out.Stat, out.NEval)
	return out, nil
}

// Covariance returns the covariance matrix from the most recent Run, or
// ErrCovarianceUnavailable when the backend did not produce a Hessian.
func (e *Engine) Covariance() (*mat.SymDense, error) {
	if e.lastCov == nil {
		return nil, ErrCovarianceUnavailable
	}
	return e.lastCov, nil
}

// covarianceFromHessian inverts half the Hessian of the statistic. The
// statistic is a deviance (-2 ln L), so cov = 2 * H^-1.
func covarianceFromHessian(hess *mat.SymDense) (*mat.SymDense, error) {
	n := hess.SymmetricDim()
	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return nil, fmt.Errorf("hessian is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("hessian inversion: %w", err)
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, 2*inv.At(i, j))
		}
	}
	return cov, nil
}

// minimizeFree re-minimizes over the currently free parameters, leaving the
// best values in place. Used by profile scans, contours and subsidiary fits
// where no covariance or write-back bookkeeping is wanted. With no free
// parameters it simply evaluates the statistic.
func (e *Engine) minimizeFree(backend string, cfg Config) (float64, error) {
	free := e.params.Free()
	if len(free) == 0 {
		return e.TotalStat(), nil
	}
	minimizer, err := NewMinimizer(backend)
	if err != nil {
		return 0, err
	}
	saved := free.Values()
	obj := func(x []float64) float64 {
		_ = free.SetValues(x)
		return e.TotalStat()
	}
	res, err := minimizer.Minimize(obj, free.Values(), boundsOf(free), cfg)
	if err != nil || !res.Converged {
		_ = free.SetValues(saved)
		oe := &OptimizationError{Backend: minimizer.Name()}
		if res != nil {
			oe.Status = res.Status
			oe.NEval = res.NEval
			oe.Stat = res.Stat
			oe.LastX = res.X
		}
		if err != nil {
			oe.Status = err.Error()
		}
		return 0, oe
	}
	_ = free.SetValues(res.X)
	return res.Stat, nil
}

func boundsOf(params model.Params) [][2]float64 {
	out := make([][2]float64, len(params))
	for i, p := range params {
		out[i] = [2]float64{p.Min, p.Max}
	}
	return out
}
