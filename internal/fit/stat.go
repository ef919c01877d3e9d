// Package fit implements the joint-likelihood fitting engine: a Cash
// statistic over one or more binned datasets, pluggable optimizer backends,
// covariance extraction, 1D statistic profiles and 2D confidence contours.
package fit

import "math"

// npredFloor clamps the predicted value away from zero inside the statistic
// so every term stays finite. Degenerate predictions are penalized through
// the clamped logarithm, never skipped.
const npredFloor = 1e-25

// Cash returns the per-bin Poisson deviance 2*(npred - counts*ln(npred)),
// up to an additive constant independent of the model. It is finite and
// well defined for npred = 0 with counts = 0.
func Cash(counts, npred float64) float64 {
	if npred < npredFloor {
		npred = npredFloor
	}
	if counts > 0 {
		return 2 * (npred - counts*math.Log(npred))
	}
	return 2 * npred
}

// CashSum sums the per-bin statistic over the fit mask. Masked-out bins are
// excluded entirely, not zero-weighted.
func CashSum(counts, npred []float64, mask []bool) float64 {
	var sum float64
	for i, ok := range mask {
		if !ok {
			continue
		}
		sum += Cash(counts[i], npred[i])
	}
	return sum
}
