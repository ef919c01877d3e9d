package skymap

// Npred returns the predicted counts on the reduced-data geometry for the
// current parameter values of every attached model, plus the stored
// background. For each model the spectral flux is integrated per true-energy
// bin, multiplied by exposure and the spatial pixel weights, then folded to
// reconstructed energy through the migration matrix.
func (d *Dataset) Npred() []float64 {
	np := append([]float64(nil), d.Background...)
	if len(d.Models) == 0 {
		return np
	}

	proj := d.Geom.Proj()
	nPix := d.Geom.NPix()
	axTrue := d.EnergyTrueAxis()
	axReco := d.EnergyAxis()
	nTrue := axTrue.NBins()
	nReco := axReco.NBins()

	sig := make([]float64, nPix)
	for _, m := range d.Models {
		var w []float64
		if m.Spatial != nil {
			w = m.Spatial.PixelWeights(proj)
		}
		for it := 0; it < nTrue; it++ {
			flux := m.Spectral.Integral(axTrue.EdgeLo(it), axTrue.EdgeHi(it))
			if flux == 0 {
				continue
			}
			for pix := 0; pix < nPix; pix++ {
				sig[pix] = flux * d.Exposure[it*nPix+pix]
				if w != nil {
					sig[pix] *= w[pix]
				}
			}
			for ir := 0; ir < nReco; ir++ {
				frac := d.EDisp[it*nReco+ir]
				if frac == 0 {
					continue
				}
				base := ir * nPix
				for pix := 0; pix < nPix; pix++ {
					np[base+pix] += sig[pix] * frac
				}
			}
		}
	}
	return np
}
