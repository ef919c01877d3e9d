package model

import "math"

// SpectralModel is one variant of the closed spectral component set. Eval
// returns the differential flux dN/dE at the given energy; Integral returns
// the flux integrated over [e1, e2]. Norm identifies the normalization
// parameter that flux-point estimation refits per energy bin.
type SpectralModel interface {
	Name() string
	Eval(energy float64) float64
	Integral(e1, e2 float64) float64
	Params() Params
	Norm() *Param
}

// numIntegral integrates Eval over [e1, e2] with log-spaced trapezoids.
// Adequate for the smooth spectral shapes in the variant set; variants with
// a closed form override it.
func numIntegral(m SpectralModel, e1, e2 float64) float64 {
	const n = 16
	if e1 <= 0 || e2 <= e1 {
		return 0
	}
	step := (math.Log(e2) - math.Log(e1)) / n
	var sum float64
	prevE := e1
	prevF := m.Eval(e1)
	for i := 1; i <= n; i++ {
		e := math.Exp(math.Log(e1) + float64(i)*step)
		f := m.Eval(e)
		sum += 0.5 * (prevF + f) * (e - prevE)
		prevE, prevF = e, f
	}
	return sum
}

// PowerLaw is dN/dE = Norm * (E/E0)^(-Index). E0 is the fixed reference
// energy, not a fit parameter.
type PowerLaw struct {
	NormPar  *Param
	IndexPar *Param
	E0       float64
}

// NewPowerLaw constructs a power law with the conventional bounds: positive
// normalization, index within a generous physical range.
func NewPowerLaw(norm, index, e0 float64) *PowerLaw {
	return &PowerLaw{
		NormPar:  NewParam("norm", norm, "cm-2 s-1 TeV-1").WithBounds(0, math.Inf(1)),
		IndexPar: NewParam("index", index, "").WithBounds(-5, 10),
		E0:       e0,
	}
}

func (m *PowerLaw) Name() string { return "power-law" }

func (m *PowerLaw) Eval(energy float64) float64 {
	return m.NormPar.Value * math.Pow(energy/m.E0, -m.IndexPar.Value)
}

// Integral uses the closed form of the power-law integral; the index==1
// case falls back to the logarithmic form.
func (m *PowerLaw) Integral(e1, e2 float64) float64 {
	if e1 <= 0 || e2 <= e1 {
		return 0
	}
	g := m.IndexPar.Value
	n := m.NormPar.Value
	if math.Abs(g-1) < 1e-9 {
		return n * m.E0 * math.Log(e2/e1)
	}
	a := 1 - g
	return n / a * m.E0 * (math.Pow(e2/m.E0, a) - math.Pow(e1/m.E0, a))
}

func (m *PowerLaw) Params() Params { return Params{m.NormPar, m.IndexPar} }
func (m *PowerLaw) Norm() *Param   { return m.NormPar }

// LogParabola is dN/dE = Norm * (E/E0)^(-(Alpha + Beta*ln(E/E0))).
type LogParabola struct {
	NormPar  *Param
	AlphaPar *Param
	BetaPar  *Param
	E0       float64
}

func NewLogParabola(norm, alpha, beta, e0 float64) *LogParabola {
	return &LogParabola{
		NormPar:  NewParam("norm", norm, "cm-2 s-1 TeV-1").WithBounds(0, math.Inf(1)),
		AlphaPar: NewParam("alpha", alpha, "").WithBounds(-5, 10),
		BetaPar:  NewParam("beta", beta, "").WithBounds(-5, 5),
		E0:       e0,
	}
}

func (m *LogParabola) Name() string { return "log-parabola" }

func (m *LogParabola) Eval(energy float64) float64 {
	x := energy / m.E0
	exp := m.AlphaPar.Value + m.BetaPar.Value*math.Log(x)
	return m.NormPar.Value * math.Pow(x, -exp)
}

func (m *LogParabola) Integral(e1, e2 float64) float64 { return numIntegral(m, e1, e2) }

func (m *LogParabola) Params() Params { return Params{m.NormPar, m.AlphaPar, m.BetaPar} }
func (m *LogParabola) Norm() *Param   { return m.NormPar }

// ExpCutoffPowerLaw is dN/dE = Norm * (E/E0)^(-Index) * exp(-Lambda*E),
// with Lambda the inverse cutoff energy.
type ExpCutoffPowerLaw struct {
	NormPar   *Param
	IndexPar  *Param
	LambdaPar *Param
	E0        float64
}

func NewExpCutoffPowerLaw(norm, index, lambda, e0 float64) *ExpCutoffPowerLaw {
	return &ExpCutoffPowerLaw{
		NormPar:   NewParam("norm", norm, "cm-2 s-1 TeV-1").WithBounds(0, math.Inf(1)),
		IndexPar:  NewParam("index", index, "").WithBounds(-5, 10),
		LambdaPar: NewParam("lambda", lambda, "TeV-1").WithBounds(0, math.Inf(1)),
		E0:        e0,
	}
}

func (m *ExpCutoffPowerLaw) Name() string { return "exp-cutoff-power-law" }

func (m *ExpCutoffPowerLaw) Eval(energy float64) float64 {
	return m.NormPar.Value * math.Pow(energy/m.E0, -m.IndexPar.Value) *
		math.Exp(-m.LambdaPar.Value*energy)
}

func (m *ExpCutoffPowerLaw) Integral(e1, e2 float64) float64 { return numIntegral(m, e1, e2) }

func (m *ExpCutoffPowerLaw) Params() Params {
	return Params{m.NormPar, m.IndexPar, m.LambdaPar}
}
func (m *ExpCutoffPowerLaw) Norm() *Param { return m.NormPar }
