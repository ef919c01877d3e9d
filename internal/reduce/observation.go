// Package reduce turns raw telescope observations into binned datasets over
// a target geometry: event binning, response projection, background
// simulation, quality masking and background normalization, plus the
// parallel reduction loop that stacks many observations into one dataset.
package reduce

import (
	"fmt"
	"math"
	"sort"
)

// Event is one recorded event: reconstructed sky position and energy.
type Event struct {
	Lon    float64
	Lat    float64
	Energy float64
}

// ResponseTable is a 1D response sampled at true-energy nodes (effective
// area in m^2). Values between nodes are interpolated linearly in log
// energy; outside the node range the response is zero.
type ResponseTable struct {
	Energy []float64
	Value  []float64
}

// Interp evaluates the table at the given energy.
func (t ResponseTable) Interp(energy float64) float64 {
	n := len(t.Energy)
	if n == 0 || energy < t.Energy[0] || energy > t.Energy[n-1] {
		return 0
	}
	i := sort.SearchFloat64s(t.Energy, energy)
	if i == 0 {
		return t.Value[0]
	}
	if i >= n {
		return t.Value[n-1]
	}
	x0, x1 := math.Log(t.Energy[i-1]), math.Log(t.Energy[i])
	f := (math.Log(energy) - x0) / (x1 - x0)
	return t.Value[i-1] + f*(t.Value[i]-t.Value[i-1])
}

// Validate checks node ordering and lengths.
func (t ResponseTable) Validate() error {
	if len(t.Energy) != len(t.Value) {
		return fmt.Errorf("response table: %d energies for %d values", len(t.Energy), len(t.Value))
	}
	for i := 1; i < len(t.Energy); i++ {
		if !(t.Energy[i] > t.Energy[i-1]) {
			return fmt.Errorf("response table: energies not increasing at index %d", i)
		}
	}
	return nil
}

// EnergyDispersion parameterizes the instrument's energy migration as a
// Gaussian in reconstructed energy around (1+Bias)*Etrue with width
// Resolution*Etrue.
type EnergyDispersion struct {
	Resolution float64
	Bias       float64
}

// PSFModel parameterizes the point-spread function as a Gaussian
// containment profile with the given 68% radius in degrees.
type PSFModel struct {
	Radius68 float64
}

// Observation is the read-only per-observation record the archive provider
// exposes: pointing, live time, event list, response tables, an expected
// background rate model, and declared validity ranges.
type Observation struct {
	ID          string
	PointingLon float64
	PointingLat float64
	LiveTime    float64 // seconds

	Events []Event

	Aeff  ResponseTable // effective area, m^2, true energy
	EDisp EnergyDispersion
	PSF   PSFModel
	// Bkg is the expected background rate per reconstructed energy,
	// in events / (s * sr * TeV), sampled like a response table.
	Bkg ResponseTable

	SafeEnergyLo float64 // declared safe reconstructed-energy range
	SafeEnergyHi float64
	MaxOffset    float64 // maximum valid field-of-view offset, degrees
}

// Validate checks the observation carries usable response tables.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("observation requires an ID")
	}
	if o.LiveTime <= 0 {
		return fmt.Errorf("observation %s: non-positive live time %g", o.ID, o.LiveTime)
	}
	if err := o.Aeff.Validate(); err != nil {
		return fmt.Errorf("observation %s: effective area: %w", o.ID, err)
	}
	if err := o.Bkg.Validate(); err != nil {
		return fmt.Errorf("observation %s: background model: %w", o.ID, err)
	}
	if o.MaxOffset <= 0 {
		return fmt.Errorf("observation %s: non-positive max offset %g", o.ID, o.MaxOffset)
	}
	return nil
}
