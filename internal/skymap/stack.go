package skymap

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skygrid"
)

// Stacker accumulates per-observation datasets into one cumulative target.
// Counts, background and exposure add; response kernels combine as
// exposure-weighted averages, so each observation enters the final
// likelihood with its statistical weight. Stack is safe for concurrent use:
// accumulation into the shared target is the single serialization point of
// the reduction loop.
type Stacker struct {
	Target *Dataset

	mu sync.Mutex
}

// NewStacker wraps an accumulation target.
func NewStacker(target *Dataset) *Stacker {
	return &Stacker{Target: target}
}

// Stack merges one contribution into the target. The contribution's
// footprint must be a sub-window of the target's (cutout relationship) with
// bin-for-bin identical axes. Per overlapping bin:
//
//	counts     += counts
//	background += background (already normalized)
//	exposure   += exposure
//	response    = (old*oldExposure + new*newExposure) / (oldExposure+newExposure)
//
// A response bin with zero total exposure retains its prior value.
func (s *Stacker) Stack(contrib *Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.Target
	offX, offY, err := contrib.Geom.WindowIn(t.Geom)
	if err != nil {
		return fmt.Errorf("stack %s into %s: %w", contrib.Name, t.Name, err)
	}
	if err := contrib.GeomTrue.SameAxes(t.GeomTrue); err != nil {
		return fmt.Errorf("stack %s into %s: %w", contrib.Name, t.Name, err)
	}
	if contrib.NRad != t.NRad {
		return &skygrid.MismatchError{
			Reason: fmt.Sprintf("PSF radial bins differ: %d vs %d", contrib.NRad, t.NRad),
		}
	}

	nTrue := t.EnergyTrueAxis().NBins()
	nReco := t.EnergyAxis().NBins()

	// Response weights are the per-true-energy-bin total exposures, captured
	// before exposure accumulation. The kernels are per-dataset (spatially
	// averaged), so the target weight spans its whole plane: the accumulated
	// exposure of every earlier contribution counts, whatever its footprint.
	oldW := make([]float64, nTrue)
	newW := make([]float64, nTrue)
	cPix := contrib.Geom.NPix()
	tPix := t.Geom.NPix()
	for it := 0; it < nTrue; it++ {
		newW[it] = floats.Sum(contrib.Exposure[it*cPix : (it+1)*cPix])
		oldW[it] = floats.Sum(t.Exposure[it*tPix : (it+1)*tPix])
	}

	// Counts and background over the reconstructed-energy window.
	s.accumulateWindow(t.Counts, contrib.Counts, contrib, nReco, offX, offY)
	s.accumulateWindow(t.Background, contrib.Background, contrib, nReco, offX, offY)
	// Exposure over the true-energy window.
	s.accumulateWindow(t.Exposure, contrib.Exposure, contrib, nTrue, offX, offY)

	// Exposure-weighted response averaging.
	for it := 0; it < nTrue; it++ {
		wSum := oldW[it] + newW[it]
		if wSum <= 0 {
			continue
		}
		for ir := 0; ir < nReco; ir++ {
			k := it*nReco + ir
			t.EDisp[k] = (t.EDisp[k]*oldW[it] + contrib.EDisp[k]*newW[it]) / wSum
		}
		for r := 0; r < t.NRad; r++ {
			k := it*t.NRad + r
			t.PSF[k] = (t.PSF[k]*oldW[it] + contrib.PSF[k]*newW[it]) / wSum
		}
	}

	monitoring.Tagf("stack", "merged %s into %s (window %dx%d at %d,%d)",
		contrib.Name, t.Name, contrib.Geom.Proj().NX, contrib.Geom.Proj().NY, offX, offY)
	return nil
}

// accumulateWindow adds the contribution array into the target array over
// the spatial sub-window, for each of the n leading-axis bins.
func (s *Stacker) accumulateWindow(dst, src []float64, contrib *Dataset, n, offX, offY int) {
	tNX := s.Target.Geom.Proj().NX
	tPix := s.Target.Geom.NPix()
	cNX := contrib.Geom.Proj().NX
	cNY := contrib.Geom.Proj().NY
	cPix := cNX * cNY
	for b := 0; b < n; b++ {
		for iy := 0; iy < cNY; iy++ {
			srcRow := b*cPix + iy*cNX
			dstRow := b*tPix + (iy+offY)*tNX + offX
			for ix := 0; ix < cNX; ix++ {
				dst[dstRow+ix] += src[srcRow+ix]
			}
		}
	}
}
