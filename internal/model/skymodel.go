package model

// SkyModel is a named composition of a spectral and a spatial component.
// Either component may be nil: a nil spatial component means the model is
// spatially uniform over the footprint (weight 1 in every pixel), which is
// how a purely spectral 1D analysis is expressed.
type SkyModel struct {
	SrcName  string
	Spectral SpectralModel
	Spatial  SpatialModel
}

// NewSkyModel constructs a named model.
func NewSkyModel(name string, spectral SpectralModel, spatial SpatialModel) *SkyModel {
	return &SkyModel{SrcName: name, Spectral: spectral, Spatial: spatial}
}

// Name returns the source name.
func (m *SkyModel) Name() string { return m.SrcName }

// Parameters returns the ordered parameter vector: spectral first, then
// spatial. The returned Params alias the model's own parameter objects.
func (m *SkyModel) Parameters() Params {
	var out Params
	if m.Spectral != nil {
		out = append(out, m.Spectral.Params()...)
	}
	if m.Spatial != nil {
		out = append(out, m.Spatial.Params()...)
	}
	return out
}

// FreezeShape freezes every parameter except the spectral normalization.
// Flux-point estimation uses this before refitting per energy interval.
// It returns the previous frozen flags so the caller can restore them.
func (m *SkyModel) FreezeShape() []bool {
	params := m.Parameters()
	prev := make([]bool, len(params))
	norm := m.Spectral.Norm()
	for i, p := range params {
		prev[i] = p.Frozen
		if p != norm {
			p.Frozen = true
		}
	}
	return prev
}

// RestoreFrozen restores frozen flags captured by FreezeShape.
func (m *SkyModel) RestoreFrozen(prev []bool) {
	params := m.Parameters()
	for i, p := range params {
		if i < len(prev) {
			p.Frozen = prev[i]
		}
	}
}
