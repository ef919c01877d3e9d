// Package model defines the parametric source models attached to a dataset:
// named compositions of a spectral and a spatial component, each a pure
// function of a small ordered parameter vector. New component variants are
// added by extending the closed variant set, not by inheritance.
package model

import (
	"fmt"
	"math"
)

// Param is one model parameter: value, unit, bounds, frozen flag and the
// errors written back after a fit. Parameters are deliberately shared by
// pointer: a model replicated across jointly-fit datasets aliases the same
// Param objects, so a mutation through one alias is visible through all.
type Param struct {
	Name   string
	Value  float64
	Unit   string
	Min    float64 // lower bound, -Inf when unbounded
	Max    float64 // upper bound, +Inf when unbounded
	Frozen bool

	// Fit outputs. Err is the symmetric (covariance) error; ErrN/ErrP are
	// the asymmetric profile errors when computed.
	Err  float64
	ErrN float64
	ErrP float64
}

// NewParam constructs an unbounded free parameter.
func NewParam(name string, value float64, unit string) *Param {
	return &Param{
		Name:  name,
		Value: value,
		Unit:  unit,
		Min:   math.Inf(-1),
		Max:   math.Inf(1),
	}
}

// WithBounds sets the allowed range and returns the parameter for chaining
// during model construction.
func (p *Param) WithBounds(min, max float64) *Param {
	p.Min, p.Max = min, max
	return p
}

// Freeze marks the parameter fixed during fits.
func (p *Param) Freeze() *Param {
	p.Frozen = true
	return p
}

// Thaw marks the parameter free.
func (p *Param) Thaw() *Param {
	p.Frozen = false
	return p
}

// Clamp returns v limited to the parameter bounds.
func (p *Param) Clamp(v float64) float64 {
	return math.Min(math.Max(v, p.Min), p.Max)
}

// Params is an ordered parameter list.
type Params []*Param

// Free returns the non-frozen parameters, preserving order.
func (ps Params) Free() Params {
	var out Params
	for _, p := range ps {
		if !p.Frozen {
			out = append(out, p)
		}
	}
	return out
}

// ByName returns the first parameter with the given name.
func (ps Params) ByName(name string) (*Param, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Values returns the current parameter values in order.
func (ps Params) Values() []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Value
	}
	return out
}

// SetValues writes values back into the parameters in order.
func (ps Params) SetValues(vals []float64) error {
	if len(vals) != len(ps) {
		return fmt.Errorf("value count mismatch: %d values for %d parameters", len(vals), len(ps))
	}
	for i, p := range ps {
		p.Value = vals[i]
	}
	return nil
}

// Dedupe returns the list with aliased (pointer-identical) parameters
// collapsed to a single entry, preserving first-occurrence order. A model
// shared across datasets must contribute each parameter once to a joint fit.
func (ps Params) Dedupe() Params {
	seen := make(map[*Param]bool, len(ps))
	var out Params
	for _, p := range ps {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
