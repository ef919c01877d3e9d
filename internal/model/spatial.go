package model

import (
	"math"

	"github.com/banshee-data/skystack/internal/skygrid"
)

// SpatialModel is one variant of the closed spatial component set.
// PixelWeights returns, for every pixel of the projection, the fraction of
// the model's total flux contained in that pixel. Flux falling outside the
// footprint is dropped, not renormalized: a cutout sees only the contained
// fraction, consistent with the reduction edge policy.
type SpatialModel interface {
	Name() string
	PixelWeights(p skygrid.Proj) []float64
	Params() Params
}

// PointSource places all flux into the single pixel containing the source
// position, or none when the position is outside the footprint.
type PointSource struct {
	LonPar *Param
	LatPar *Param
}

func NewPointSource(lon, lat float64) *PointSource {
	return &PointSource{
		LonPar: NewParam("lon", lon, "deg").Freeze(),
		LatPar: NewParam("lat", lat, "deg").Freeze(),
	}
}

func (m *PointSource) Name() string { return "point-source" }

func (m *PointSource) PixelWeights(p skygrid.Proj) []float64 {
	w := make([]float64, p.NX*p.NY)
	ix, iy, ok := p.PixBin(m.LonPar.Value, m.LatPar.Value)
	if ok {
		w[iy*p.NX+ix] = 1
	}
	return w
}

func (m *PointSource) Params() Params { return Params{m.LonPar, m.LatPar} }

// GaussianSource is a symmetric 2D Gaussian with the given 1-sigma width in
// degrees. Pixel weights are the density at the pixel centre times the
// pixel area, which is accurate for widths of a few pixels or more.
type GaussianSource struct {
	LonPar   *Param
	LatPar   *Param
	SigmaPar *Param
}

func NewGaussianSource(lon, lat, sigma float64) *GaussianSource {
	return &GaussianSource{
		LonPar:   NewParam("lon", lon, "deg").Freeze(),
		LatPar:   NewParam("lat", lat, "deg").Freeze(),
		SigmaPar: NewParam("sigma", sigma, "deg").WithBounds(1e-3, 10).Freeze(),
	}
}

func (m *GaussianSource) Name() string { return "gaussian-source" }

func (m *GaussianSource) PixelWeights(p skygrid.Proj) []float64 {
	w := make([]float64, p.NX*p.NY)
	sigma := m.SigmaPar.Value
	norm := p.PixSize * p.PixSize / (2 * math.Pi * sigma * sigma)
	for iy := 0; iy < p.NY; iy++ {
		for ix := 0; ix < p.NX; ix++ {
			lon, lat := p.PixToSky(float64(ix), float64(iy))
			sep := p.Separation(lon, lat, m.LonPar.Value, m.LatPar.Value)
			w[iy*p.NX+ix] = norm * math.Exp(-0.5*sep*sep/(sigma*sigma))
		}
	}
	return w
}

func (m *GaussianSource) Params() Params {
	return Params{m.LonPar, m.LatPar, m.SigmaPar}
}

// DiskSource is a uniform disk of the given radius in degrees.
type DiskSource struct {
	LonPar    *Param
	LatPar    *Param
	RadiusPar *Param
}

func NewDiskSource(lon, lat, radius float64) *DiskSource {
	return &DiskSource{
		LonPar:    NewParam("lon", lon, "deg").Freeze(),
		LatPar:    NewParam("lat", lat, "deg").Freeze(),
		RadiusPar: NewParam("radius", radius, "deg").WithBounds(1e-3, 10).Freeze(),
	}
}

func (m *DiskSource) Name() string { return "disk-source" }

func (m *DiskSource) PixelWeights(p skygrid.Proj) []float64 {
	w := make([]float64, p.NX*p.NY)
	r := m.RadiusPar.Value
	area := math.Pi * r * r
	if area <= 0 {
		return w
	}
	frac := p.PixSize * p.PixSize / area
	for iy := 0; iy < p.NY; iy++ {
		for ix := 0; ix < p.NX; ix++ {
			lon, lat := p.PixToSky(float64(ix), float64(iy))
			if p.Separation(lon, lat, m.LonPar.Value, m.LatPar.Value) <= r {
				w[iy*p.NX+ix] = frac
			}
		}
	}
	return w
}

func (m *DiskSource) Params() Params {
	return Params{m.LonPar, m.LatPar, m.RadiusPar}
}
