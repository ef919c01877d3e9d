package flux

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Significance converts a detection test statistic to Gaussian-equivalent
// sigma using Wilks' theorem with one degree of freedom: the chi-squared
// survival probability mapped through the normal quantile. For large TS the
// survival probability underflows and sqrt(TS) is the exact limit.
func Significance(ts float64) float64 {
	if ts <= 0 {
		return 0
	}
	p := distuv.ChiSquared{K: 1}.Survival(ts)
	if p <= 0 {
		return math.Sqrt(ts)
	}
	return distuv.UnitNormal.Quantile(1 - p/2)
}
