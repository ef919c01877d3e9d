package fit

import (
	"fmt"
	"math"

	"github.com/banshee-data/skystack/internal/monitoring"
)

// Contour is a traced confidence region boundary in a two-parameter plane:
// ordered vertices forming a closed curve around the best-fit point. Failed
// holds the indices of requested directions whose vertex could not be
// bracketed; those vertices are omitted, never fabricated.
type Contour struct {
	ParamA     string
	ParamB     string
	SigmaLevel float64
	X          []float64
	Y          []float64
	Failed     []int
}

// maxDoublings bounds the outward directional search. A direction that has
// not bracketed the target statistic increase after this many step
// doublings produces a flagged, omitted vertex.
const maxDoublings = 12

// Contour traces the boundary where the statistic exceeds its minimum by
// sigma^2 (Wilks scaling for Gaussian-equivalent confidence). It first
// re-minimizes to establish the reference minimum, then walks n polar
// directions around the best-fit point in error-scaled units: each
// direction is searched outward by step doubling until the target increase
// is bracketed, then bisected. Both scanned parameters are held fixed at
// each trial point while all remaining free parameters are re-minimized.
func (e *Engine) Contour(nameA, nameB string, n int, sigma float64, backend string, cfg Config) (*Contour, error) {
	if n < 4 {
		return nil, fmt.Errorf("contour requires at least 4 points, got %d", n)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("contour requires a positive sigma level, got %g", sigma)
	}
	pa, err := e.ParamByName(nameA)
	if err != nil {
		return nil, err
	}
	pb, err := e.ParamByName(nameB)
	if err != nil {
		return nil, err
	}
	if pa == pb {
		return nil, fmt.Errorf("contour requires two distinct parameters")
	}
	if pa.Frozen || pb.Frozen {
		return nil, fmt.Errorf("contour parameters must be free")
	}

	savedValues := e.params.Values()
	savedFrozenA, savedFrozenB := pa.Frozen, pb.Frozen
	defer func() {
		_ = e.params.SetValues(savedValues)
		pa.Frozen, pb.Frozen = savedFrozenA, savedFrozenB
	}()

	// Establish the reference minimum with the scanned pair still free.
	statMin, err := e.minimizeFree(backend, cfg)
	if err != nil {
		return nil, err
	}
	bestValues := e.params.Values()
	a0, b0 := pa.Value, pb.Value
	target := sigma * sigma

	// Error-scaled step units keep the search roughly isotropic for a
	// near-quadratic statistic.
	scaleA := pa.Err
	if scaleA <= 0 {
		scaleA = math.Max(math.Abs(a0)*0.1, 1e-3)
	}
	scaleB := pb.Err
	if scaleB <= 0 {
		scaleB = math.Max(math.Abs(b0)*0.1, 1e-3)
	}

	pa.Frozen, pb.Frozen = true, true

	// excess evaluates stat(a, b) - statMin - target with the remaining
	// parameters re-minimized, restarting from the best-fit state. A trial
	// point outside either parameter's bounds is reported unreachable.
	excess := func(a, b float64) (float64, error) {
		if a < pa.Min || a > pa.Max || b < pb.Min || b > pb.Max {
			return 0, fmt.Errorf("trial point (%g, %g) outside parameter bounds", a, b)
		}
		_ = e.params.SetValues(bestValues)
		pa.Value, pb.Value = a, b
		stat, err := e.minimizeFree(backend, cfg)
		if err != nil {
			return 0, err
		}
		return stat - statMin - target, nil
	}

	out := &Contour{ParamA: nameA, ParamB: nameB, SigmaLevel: sigma}
	for k := 0; k < n; k++ {
		theta := 2 * math.Pi * float64(k) / float64(n)
		dx := math.Cos(theta) * scaleA * sigma
		dy := math.Sin(theta) * scaleB * sigma

		vx, vy, err := e.traceVertex(a0, b0, dx, dy, excess)
		if err != nil {
			out.Failed = append(out.Failed, k)
			monitoring.Tagf("fit", "contour %s/%s: vertex %d omitted: %v", nameA, nameB, k, err)
			continue
		}
		out.X = append(out.X, vx)
		out.Y = append(out.Y, vy)
	}
	return out, nil
}

// traceVertex searches outward from (a0, b0) along (dx, dy) for the point
// where excess crosses zero: step-doubling to bracket, then bisection.
func (e *Engine) traceVertex(a0, b0, dx, dy float64, excess func(a, b float64) (float64, error)) (float64, float64, error) {
	tLo := 0.0
	tHi := 1.0
	val, err := excess(a0+tHi*dx, b0+tHi*dy)
	if err != nil {
		return 0, 0, err
	}
	doublings := 0
	for val < 0 {
		if doublings >= maxDoublings {
			return 0, 0, fmt.Errorf("target statistic increase not bracketed after %d step doublings", maxDoublings)
		}
		tLo = tHi
		tHi *= 2
		doublings++
		val, err = excess(a0+tHi*dx, b0+tHi*dy)
		if err != nil {
			return 0, 0, err
		}
	}

	// Bisect to a relative tolerance on the step parameter.
	for i := 0; i < 40 && (tHi-tLo) > 1e-3*tHi; i++ {
		tMid := 0.5 * (tLo + tHi)
		val, err = excess(a0+tMid*dx, b0+tMid*dy)
		if err != nil {
			return 0, 0, err
		}
		if val < 0 {
			tLo = tMid
		} else {
			tHi = tMid
		}
	}
	t := 0.5 * (tLo + tHi)
	return a0 + t*dx, b0 + t*dy, nil
}
