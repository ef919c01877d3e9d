package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Objective is the scalar function minimized by a backend.
type Objective func(x []float64) float64

// Config bounds a single minimization. The zero value selects the defaults.
type Config struct {
	MaxEvals int     // function evaluation budget, default 10000
	Tol      float64 // absolute function convergence tolerance, default 1e-6
}

func (c Config) withDefaults() Config {
	if c.MaxEvals <= 0 {
		c.MaxEvals = 10000
	}
	if c.Tol <= 0 {
		c.Tol = 1e-6
	}
	return c
}

// MinResult is the outcome of one backend minimization.
type MinResult struct {
	X         []float64
	Stat      float64
	NEval     int
	Converged bool
	Status    string
	// Hessian of the statistic at the minimum, only set by backends that
	// compute it. Covariance derives from it.
	Hessian *mat.SymDense
}

// Minimizer is the strategy interface for interchangeable optimizer
// backends. The backend choice changes only the search strategy and whether
// a Hessian is produced, never the statistic definition. Bounds are
// enforced through a quadratic barrier added outside the allowed box, so
// unconstrained gonum methods can be used directly.
type Minimizer interface {
	Name() string
	Minimize(obj Objective, x0 []float64, bounds [][2]float64, cfg Config) (*MinResult, error)
}

// NewMinimizer selects a backend by name: "simplex" (direct search,
// Nelder-Mead), "lbfgs" (derivative-based), or "hesse" (derivative-based
// with a numerical Hessian at the minimum for error estimation).
func NewMinimizer(name string) (Minimizer, error) {
	switch name {
	case "", "simplex":
		return &simplexBackend{}, nil
	case "lbfgs":
		return &lbfgsBackend{}, nil
	case "hesse":
		return &hesseBackend{}, nil
	}
	return nil, fmt.Errorf("unknown optimizer backend %q", name)
}

// barrierScale is the quadratic penalty applied per unit of bound excess.
// Large enough that no minimum ends up outside the box, smooth enough that
// gradient-based methods step back inside.
const barrierScale = 1e8

// bounded wraps the objective with the bound barrier. The inner objective
// is always evaluated at the clamped point so the statistic itself stays
// defined.
func bounded(obj Objective, bounds [][2]float64) Objective {
	return func(x []float64) float64 {
		clamped := make([]float64, len(x))
		var penalty float64
		for i, v := range x {
			lo, hi := bounds[i][0], bounds[i][1]
			c := v
			if c < lo {
				d := lo - c
				penalty += d * d
				c = lo
			} else if c > hi {
				d := c - hi
				penalty += d * d
				c = hi
			}
			clamped[i] = c
		}
		return obj(clamped) + barrierScale*penalty
	}
}

func clampToBounds(x []float64, bounds [][2]float64) {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], bounds[i][0]), bounds[i][1])
	}
}

func runGonum(method optimize.Method, withGrad bool, obj Objective, x0 []float64, bounds [][2]float64, cfg Config) (*MinResult, error) {
	cfg = cfg.withDefaults()
	wrapped := bounded(obj, bounds)

	problem := optimize.Problem{Func: wrapped}
	if withGrad {
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, wrapped, x, nil)
		}
	}
	settings := &optimize.Settings{
		FuncEvaluations: cfg.MaxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.Tol,
			Iterations: 50,
		},
	}

	start := append([]float64(nil), x0...)
	clampToBounds(start, bounds)
	result, err := optimize.Minimize(problem, start, settings, method)
	if err != nil && result == nil {
		return nil, err
	}

	best := append([]float64(nil), result.X...)
	clampToBounds(best, bounds)
	out := &MinResult{
		X:      best,
		Stat:   obj(best),
		NEval:  result.Stats.FuncEvaluations,
		Status: result.Status.String(),
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.RuntimeLimit, optimize.Failure, optimize.NotTerminated:
		out.Converged = false
	default:
		out.Converged = err == nil
	}
	return out, nil
}

// simplexBackend is the direct-search backend (Nelder-Mead). It produces no
// Hessian, so covariance is unavailable from it.
type simplexBackend struct{}

func (b *simplexBackend) Name() string { return "simplex" }

func (b *simplexBackend) Minimize(obj Objective, x0 []float64, bounds [][2]float64, cfg Config) (*MinResult, error) {
	return runGonum(&optimize.NelderMead{}, false, obj, x0, bounds, cfg)
}

// lbfgsBackend is the derivative-based backend with finite-difference
// gradients. It produces no Hessian.
type lbfgsBackend struct{}

func (b *lbfgsBackend) Name() string { return "lbfgs" }

func (b *lbfgsBackend) Minimize(obj Objective, x0 []float64, bounds [][2]float64, cfg Config) (*MinResult, error) {
	return runGonum(&optimize.LBFGS{}, true, obj, x0, bounds, cfg)
}

// hesseBackend minimizes like lbfgs, then evaluates a numerical Hessian of
// the statistic at the minimum for second-derivative error estimation.
type hesseBackend struct{}

func (b *hesseBackend) Name() string { return "hesse" }

func (b *hesseBackend) Minimize(obj Objective, x0 []float64, bounds [][2]float64, cfg Config) (*MinResult, error) {
	res, err := runGonum(&optimize.LBFGS{}, true, obj, x0, bounds, cfg)
	if err != nil || !res.Converged {
		return res, err
	}
	n := len(res.X)
	hess := mat.NewSymDense(n, nil)
	// The Hessian is taken of the raw statistic at the interior minimum;
	// the barrier is zero and flat there.
	fd.Hessian(hess, obj, res.X, nil)
	res.Hessian = hess
	return res, nil
}
