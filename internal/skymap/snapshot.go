package skymap

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/skygrid"
)

// Snapshot persistence: a dataset serializes to a gob-encoded, gzipped blob
// carrying geometry, all binned arrays, the fit mask and the attached model
// parameter values. An xxhash checksum over the blob detects corruption at
// load time. The blob format is what the sqlite store persists; it decouples
// reduction from fitting as separate runs.

type snapAxis struct {
	Name  string
	Unit  string
	Edges []float64
}

type snapGeom struct {
	Proj skygrid.Proj
	Axes []snapAxis
}

type snapParam struct {
	Name   string
	Value  float64
	Unit   string
	Min    float64
	Max    float64
	Frozen bool
	Err    float64
	ErrN   float64
	ErrP   float64
}

type snapModel struct {
	SrcName      string
	SpectralType string
	SpectralE0   float64
	Spectral     []snapParam
	SpatialType  string
	Spatial      []snapParam
}

type snapshotV1 struct {
	Name    string
	ID      string
	BkgNorm float64

	Geom     snapGeom
	GeomTrue snapGeom
	NRad     int

	Counts     []float64
	Background []float64
	Exposure   []float64
	EDisp      []float64
	PSF        []float64
	Mask       []bool

	Models []snapModel
}

// MarshalSnapshot encodes the dataset into a compressed blob and returns the
// blob together with its xxhash checksum.
func (d *Dataset) MarshalSnapshot() ([]byte, uint64, error) {
	snap := snapshotV1{
		Name:       d.Name,
		ID:         d.ID.String(),
		BkgNorm:    d.BkgNorm,
		Geom:       geomToSnap(d.Geom),
		GeomTrue:   geomToSnap(d.GeomTrue),
		NRad:       d.NRad,
		Counts:     d.Counts,
		Background: d.Background,
		Exposure:   d.Exposure,
		EDisp:      d.EDisp,
		PSF:        d.PSF,
		Mask:       d.Mask,
	}
	for _, m := range d.Models {
		sm := snapModel{SrcName: m.SrcName}
		if m.Spectral != nil {
			sm.SpectralType = m.Spectral.Name()
			sm.SpectralE0 = spectralE0(m.Spectral)
			sm.Spectral = paramsToSnap(m.Spectral.Params())
		}
		if m.Spatial != nil {
			sm.SpatialType = m.Spatial.Name()
			sm.Spatial = paramsToSnap(m.Spatial.Params())
		}
		snap.Models = append(snap.Models, sm)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(&snap); err != nil {
		return nil, 0, fmt.Errorf("snapshot encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, 0, fmt.Errorf("snapshot compress: %w", err)
	}
	blob := buf.Bytes()
	return blob, xxhash.Sum64(blob), nil
}

// UnmarshalSnapshot reconstructs a dataset from a snapshot blob. A non-zero
// sum is verified against the blob before decoding.
func UnmarshalSnapshot(blob []byte, sum uint64) (*Dataset, error) {
	if sum != 0 {
		if got := xxhash.Sum64(blob); got != sum {
			return nil, fmt.Errorf("snapshot checksum mismatch: stored %x, computed %x", sum, got)
		}
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("snapshot decompress: %w", err)
	}
	defer gz.Close()

	var snap snapshotV1
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil && err != io.EOF {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}

	geom, err := snapToGeom(snap.Geom)
	if err != nil {
		return nil, err
	}
	geomTrue, err := snapToGeom(snap.GeomTrue)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(snap.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot dataset ID: %w", err)
	}

	d := &Dataset{
		Name:       snap.Name,
		ID:         id,
		Geom:       geom,
		GeomTrue:   geomTrue,
		Counts:     snap.Counts,
		Background: snap.Background,
		Exposure:   snap.Exposure,
		EDisp:      snap.EDisp,
		PSF:        snap.PSF,
		NRad:       snap.NRad,
		Mask:       snap.Mask,
		BkgNorm:    snap.BkgNorm,
	}
	for _, sm := range snap.Models {
		m, err := snapToModel(sm)
		if err != nil {
			return nil, err
		}
		d.Models = append(d.Models, m)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func geomToSnap(g *skygrid.Geom) snapGeom {
	out := snapGeom{Proj: g.Proj()}
	for _, ax := range g.Axes() {
		out.Axes = append(out.Axes, snapAxis{Name: ax.Name(), Unit: ax.Unit(), Edges: ax.Edges()})
	}
	return out
}

func snapToGeom(s snapGeom) (*skygrid.Geom, error) {
	axes := make([]*skygrid.Axis, 0, len(s.Axes))
	for _, sa := range s.Axes {
		ax, err := skygrid.NewAxis(sa.Name, sa.Unit, sa.Edges)
		if err != nil {
			return nil, fmt.Errorf("snapshot geometry: %w", err)
		}
		axes = append(axes, ax)
	}
	return skygrid.New(s.Proj, axes...)
}

func paramsToSnap(ps model.Params) []snapParam {
	out := make([]snapParam, len(ps))
	for i, p := range ps {
		out[i] = snapParam{
			Name: p.Name, Value: p.Value, Unit: p.Unit,
			Min: p.Min, Max: p.Max, Frozen: p.Frozen,
			Err: p.Err, ErrN: p.ErrN, ErrP: p.ErrP,
		}
	}
	return out
}

func snapToParams(sp []snapParam, ps model.Params) error {
	if len(sp) != len(ps) {
		return fmt.Errorf("snapshot parameter count %d does not match model %d", len(sp), len(ps))
	}
	for i, s := range sp {
		p := ps[i]
		p.Name, p.Value, p.Unit = s.Name, s.Value, s.Unit
		p.Min, p.Max, p.Frozen = s.Min, s.Max, s.Frozen
		p.Err, p.ErrN, p.ErrP = s.Err, s.ErrN, s.ErrP
	}
	return nil
}

func spectralE0(m model.SpectralModel) float64 {
	switch s := m.(type) {
	case *model.PowerLaw:
		return s.E0
	case *model.LogParabola:
		return s.E0
	case *model.ExpCutoffPowerLaw:
		return s.E0
	}
	return 0
}

// snapToModel rebuilds a sky model from its variant type names and stored
// parameter values. Unknown variant names are an error: the variant set is
// closed and extending it means extending this switch.
func snapToModel(sm snapModel) (*model.SkyModel, error) {
	var spectral model.SpectralModel
	switch sm.SpectralType {
	case "":
	case "power-law":
		spectral = model.NewPowerLaw(0, 0, sm.SpectralE0)
	case "log-parabola":
		spectral = model.NewLogParabola(0, 0, 0, sm.SpectralE0)
	case "exp-cutoff-power-law":
		spectral = model.NewExpCutoffPowerLaw(0, 0, 0, sm.SpectralE0)
	default:
		return nil, fmt.Errorf("unknown spectral variant %q", sm.SpectralType)
	}
	if spectral != nil {
		if err := snapToParams(sm.Spectral, spectral.Params()); err != nil {
			return nil, fmt.Errorf("model %s: %w", sm.SrcName, err)
		}
	}

	var spatial model.SpatialModel
	switch sm.SpatialType {
	case "":
	case "point-source":
		spatial = model.NewPointSource(0, 0)
	case "gaussian-source":
		spatial = model.NewGaussianSource(0, 0, 1)
	case "disk-source":
		spatial = model.NewDiskSource(0, 0, 1)
	default:
		return nil, fmt.Errorf("unknown spatial variant %q", sm.SpatialType)
	}
	if spatial != nil {
		if err := snapToParams(sm.Spatial, spatial.Params()); err != nil {
			return nil, fmt.Errorf("model %s: %w", sm.SrcName, err)
		}
	}

	return model.NewSkyModel(sm.SrcName, spectral, spatial), nil
}
