package fit

import (
	"fmt"

	"github.com/banshee-data/skystack/internal/monitoring"
)

// ProfilePoint is one entry of a statistic profile: the scanned parameter
// value, the statistic re-minimized over all other free parameters, and the
// per-point failure, if any. A failed point never aborts the scan.
type ProfilePoint struct {
	Value float64
	Stat  float64
	Err   error
}

// FixedStat holds the named parameter at the given value and re-minimizes
// the statistic over the remaining free parameters, restoring all parameter
// state before returning. It is the single-point building block behind
// profile scans, profile-inversion errors and test statistics.
func (e *Engine) FixedStat(name string, value float64, backend string, cfg Config) (float64, error) {
	p, err := e.ParamByName(name)
	if err != nil {
		return 0, err
	}
	savedValues := e.params.Values()
	savedFrozen := p.Frozen
	defer func() {
		_ = e.params.SetValues(savedValues)
		p.Frozen = savedFrozen
	}()
	p.Frozen = true
	p.Value = value
	return e.minimizeFree(backend, cfg)
}

// StatProfile scans the named parameter over n equally spaced values in
// [lo, hi]. At each point the parameter is held fixed and the statistic is
// re-minimized over the remaining free parameters, restarting from the
// pre-scan values so every point is an independent optimization. All
// parameter state is restored before returning.
func (e *Engine) StatProfile(name string, lo, hi float64, n int, backend string, cfg Config) ([]ProfilePoint, error) {
	if n < 2 {
		return nil, fmt.Errorf("stat profile requires at least 2 points, got %d", n)
	}
	if hi <= lo {
		return nil, fmt.Errorf("stat profile requires lo < hi, got [%g, %g]", lo, hi)
	}
	p, err := e.ParamByName(name)
	if err != nil {
		return nil, err
	}

	savedValues := e.params.Values()
	savedFrozen := p.Frozen
	defer func() {
		_ = e.params.SetValues(savedValues)
		p.Frozen = savedFrozen
	}()

	p.Frozen = true
	points := make([]ProfilePoint, n)
	step := (hi - lo) / float64(n-1)
	nFailed := 0
	for i := 0; i < n; i++ {
		// Restart from the pre-scan state so points are independent.
		_ = e.params.SetValues(savedValues)
		v := lo + float64(i)*step
		p.Value = v
		stat, err := e.minimizeFree(backend, cfg)
		points[i] = ProfilePoint{Value: v, Stat: stat}
		if err != nil {
			points[i].Err = &ProfilePointError{Param: name, Value: v, Cause: err}
			nFailed++
		}
	}
	if nFailed > 0 {
		monitoring.Tagf("fit", "stat profile %s: %d/%d points failed", name, nFailed, n)
	}
	return points, nil
}
