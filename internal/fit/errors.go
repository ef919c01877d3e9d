package fit

import (
	"errors"
	"fmt"
)

// ErrCovarianceUnavailable is returned when the last run's backend did not
// produce a Hessian at the minimum.
var ErrCovarianceUnavailable = errors.New("covariance unavailable: backend did not produce a Hessian")

// OptimizationError reports optimizer non-convergence within its iteration
// or tolerance budget. It carries enough state to diagnose the failure; a
// run that fails this way never returns a partial result.
type OptimizationError struct {
	Backend string
	Status  string
	NEval   int
	Stat    float64
	LastX   []float64
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("optimization failed: backend %s status %s after %d evaluations (stat %.6g)",
		e.Backend, e.Status, e.NEval, e.Stat)
}

// ProfilePointError reports that one scan or contour point could not be
// minimized or bracketed. It is recorded per point and never aborts a scan.
type ProfilePointError struct {
	Param string
	Value float64
	Cause error
}

func (e *ProfilePointError) Error() string {
	return fmt.Sprintf("profile point %s=%g: %v", e.Param, e.Value, e.Cause)
}

func (e *ProfilePointError) Unwrap() error { return e.Cause }
