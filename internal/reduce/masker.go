package reduce

import (
	"fmt"

	"github.com/banshee-data/skystack/internal/skymap"
)

// Safe-mask method names. Methods are independent validity predicates
// combined with logical AND.
const (
	MaskMethodOffsetMax  = "offset-max"  // pixel offset from pointing <= max offset
	MaskMethodEnergySafe = "energy-safe" // reconstructed bin inside the declared safe range
)

// SafeMaskParams configures the quality masker.
type SafeMaskParams struct {
	Methods []string
	// MaxOffset overrides the observation's declared maximum field-of-view
	// offset when positive.
	MaxOffset float64
}

// DefaultSafeMaskParams enables both predicates with the observation's own
// validity ranges.
func DefaultSafeMaskParams() SafeMaskParams {
	return SafeMaskParams{Methods: []string{MaskMethodOffsetMax, MaskMethodEnergySafe}}
}

// ApplySafeMask evaluates the configured validity predicates over the
// dataset geometry and intersects the result into the dataset's fit mask.
// A pre-existing exclusion is never relaxed. Deterministic; the only
// failure mode is an unknown method name or a geometry mismatch.
func ApplySafeMask(ds *skymap.Dataset, obs *Observation, p SafeMaskParams) error {
	mask := make([]bool, len(ds.Mask))
	for i := range mask {
		mask[i] = true
	}

	proj := ds.Geom.Proj()
	ax := ds.EnergyAxis()
	nPix := ds.Geom.NPix()

	for _, method := range p.Methods {
		switch method {
		case MaskMethodOffsetMax:
			maxOffset := obs.MaxOffset
			if p.MaxOffset > 0 {
				maxOffset = p.MaxOffset
			}
			for iy := 0; iy < proj.NY; iy++ {
				for ix := 0; ix < proj.NX; ix++ {
					lon, lat := proj.PixToSky(float64(ix), float64(iy))
					if proj.Separation(lon, lat, obs.PointingLon, obs.PointingLat) > maxOffset {
						for ie := 0; ie < ax.NBins(); ie++ {
							mask[ie*nPix+iy*proj.NX+ix] = false
						}
					}
				}
			}
		case MaskMethodEnergySafe:
			for ie := 0; ie < ax.NBins(); ie++ {
				ok := ax.EdgeLo(ie) >= obs.SafeEnergyLo && ax.EdgeHi(ie) <= obs.SafeEnergyHi
				if ok {
					continue
				}
				for pix := 0; pix < nPix; pix++ {
					mask[ie*nPix+pix] = false
				}
			}
		default:
			return fmt.Errorf("unknown safe-mask method %q", method)
		}
	}

	return ds.AndMask(mask)
}
